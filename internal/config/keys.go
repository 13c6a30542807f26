package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// anthropicKeyEnv is read ahead of llm.api_key.
	anthropicKeyEnv = "ANTHROPIC_API_KEY"
	// anthropicKeyPrefix starts every Anthropic console key.
	anthropicKeyPrefix = "sk-ant-"
	minKeyLength       = 20
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrMalformedAPIKey is returned by ValidateAPIKey for keys that cannot be
// Anthropic keys.
var ErrMalformedAPIKey = errors.New("malformed Anthropic API key")

// KeySource names where the effective API key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// resolveAPIKey returns the effective key and its source. A config value
// whose ${VAR} reference did not resolve counts as unset.
func resolveAPIKey(cfg *Config) (string, KeySource) {
	if key := os.Getenv(anthropicKeyEnv); key != "" {
		return key, KeySourceEnv
	}
	if cfg == nil || cfg.LLM.APIKey == "" {
		return "", KeySourceNone
	}
	key := os.ExpandEnv(cfg.LLM.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return "", KeySourceNone
	}
	return key, KeySourceConfig
}

// GetAPIKey returns the Anthropic API key for cfg.
func GetAPIKey(cfg *Config) (string, error) {
	key, src := resolveAPIKey(cfg)
	if src == KeySourceNone {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource reports where GetAPIKey would read the key from.
func GetAPIKeySource(cfg *Config) KeySource {
	_, src := resolveAPIKey(cfg)
	return src
}

// ValidateAPIKey checks the shape of key without contacting the API.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case !strings.HasPrefix(key, anthropicKeyPrefix):
		return fmt.Errorf("%w: expected %q prefix", ErrMalformedAPIKey, anthropicKeyPrefix)
	case len(key) < minKeyLength:
		return fmt.Errorf("%w: too short", ErrMalformedAPIKey)
	}
	return nil
}

// MaskAPIKey hides all but the prefix and the last four characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	}
	return key[:len(anthropicKeyPrefix)] + "..." + key[len(key)-4:]
}

// RequiresAPIKey reports whether the configured provider authenticates
// with an Anthropic API key. Bedrock uses AWS credentials instead.
func RequiresAPIKey(cfg *Config) bool {
	return cfg == nil || cfg.LLM.Provider != ProviderBedrock
}
