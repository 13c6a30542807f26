// Package config handles configuration loading and management for baton.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

const (
	// ProjectConfigName is the project-level config file name.
	ProjectConfigName = ".baton.yaml"
	// EnvPrefix prefixes environment overrides, e.g. BATON_LLM_MODEL.
	EnvPrefix = "BATON"

	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration for baton.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// LLMConfig holds model backend settings.
type LLMConfig struct {
	// Provider is "anthropic" or "bedrock".
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	AWSRegion  string        `mapstructure:"aws_region"`
	AWSProfile string        `mapstructure:"aws_profile"`
}

// WorkflowConfig holds run defaults.
type WorkflowConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	// FallbackAgent overrides the policy's fallback agent when set.
	FallbackAgent string `mapstructure:"fallback_agent"`
	// StartAgent is the first agent of a run. Empty lets the router choose.
	StartAgent string        `mapstructure:"start_agent"`
	TUIRefresh time.Duration `mapstructure:"tui_refresh"`
}

// PolicyConfig points at an optional routing policy file.
type PolicyConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// StoreConfig holds session store settings.
type StoreConfig struct {
	// Dir is the store directory. Empty means the project's .baton
	// directory when present, else the XDG data directory.
	Dir string `mapstructure:"dir"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver         string  `mapstructure:"driver"`
	ExpiryDays     int     `mapstructure:"expiry_days"`
	CompletionStep float64 `mapstructure:"completion_step"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// NATSConfig holds event publishing settings. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (BATON_*, ANTHROPIC_API_KEY)
// 2. Project config (.baton.yaml in current directory or parent)
// 3. User config (~/.config/baton/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("llm.api_key", "BATON_LLM_API_KEY", "ANTHROPIC_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Store.Dir = expandHome(cfg.Store.Dir)
	cfg.Policy.File = expandHome(cfg.Policy.File)
	cfg.Logging.File = expandHome(cfg.Logging.File)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderAnthropic, ProviderBedrock, c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative"))
	}
	if c.Workflow.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("workflow.max_iterations must be positive, got %d", c.Workflow.MaxIterations))
	}
	for key, name := range map[string]string{
		"workflow.fallback_agent": c.Workflow.FallbackAgent,
		"workflow.start_agent":    c.Workflow.StartAgent,
	} {
		if name == "" {
			continue
		}
		if _, ok := models.ParseAgent(name); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown agent %q", key, name))
		}
	}
	switch c.Store.Driver {
	case state.DriverSQLite, state.DriverSQLite3:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", state.DriverSQLite, state.DriverSQLite3, c.Store.Driver))
	}
	if c.Store.ExpiryDays <= 0 {
		errs = append(errs, fmt.Errorf("store.expiry_days must be positive"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("llm.provider", cfg.LLM.Provider)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.max_tokens", cfg.LLM.MaxTokens)
	v.Set("llm.timeout", cfg.LLM.Timeout.String())
	v.Set("llm.aws_region", cfg.LLM.AWSRegion)
	v.Set("llm.aws_profile", cfg.LLM.AWSProfile)
	v.Set("workflow.max_iterations", cfg.Workflow.MaxIterations)
	v.Set("workflow.fallback_agent", cfg.Workflow.FallbackAgent)
	v.Set("workflow.start_agent", cfg.Workflow.StartAgent)
	v.Set("workflow.tui_refresh", cfg.Workflow.TUIRefresh.String())
	v.Set("policy.file", cfg.Policy.File)
	v.Set("policy.watch", cfg.Policy.Watch)
	v.Set("store.dir", cfg.Store.Dir)
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("store.expiry_days", cfg.Store.ExpiryDays)
	v.Set("store.completion_step", cfg.Store.CompletionStep)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("nats.url", cfg.NATS.URL)
	v.Set("nats.subject_prefix", cfg.NATS.SubjectPrefix)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ResolveStoreDir returns the directory the session store lives in.
func (c *Config) ResolveStoreDir() string {
	if c.Store.Dir != "" {
		return c.Store.Dir
	}
	if root := findProjectRoot(); root != "" {
		return state.ProjectDir(root)
	}
	return state.DefaultDir()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout.String())
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")

	v.SetDefault("workflow.max_iterations", d.Workflow.MaxIterations)
	v.SetDefault("workflow.fallback_agent", d.Workflow.FallbackAgent)
	v.SetDefault("workflow.start_agent", "")
	v.SetDefault("workflow.tui_refresh", d.Workflow.TUIRefresh.String())

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.watch", false)

	v.SetDefault("store.dir", "")
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.expiry_days", d.Store.ExpiryDays)
	v.SetDefault("store.completion_step", d.Store.CompletionStep)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
}

// getUserConfigDir returns the XDG config directory for baton.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "baton")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "baton")
	}
	return filepath.Join(home, ".config", "baton")
}

// findProjectConfig searches for .baton.yaml in the current directory and parents.
func findProjectConfig() string {
	root := walkUp(func(dir string) bool {
		info, err := os.Stat(filepath.Join(dir, ProjectConfigName))
		return err == nil && !info.IsDir()
	})
	if root == "" {
		return ""
	}
	return filepath.Join(root, ProjectConfigName)
}

// findProjectRoot returns the nearest directory holding a .baton store
// directory or a .baton.yaml file.
func findProjectRoot() string {
	return walkUp(func(dir string) bool {
		if info, err := os.Stat(state.ProjectDir(dir)); err == nil && info.IsDir() {
			return true
		}
		_, err := os.Stat(filepath.Join(dir, ProjectConfigName))
		return err == nil
	})
}

func walkUp(match func(dir string) bool) string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if match(cwd) {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
			Timeout:   5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxIterations: 15,
			FallbackAgent: string(models.AgentCoder),
			TUIRefresh:    100 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:         state.DriverSQLite,
			ExpiryDays:     7,
			CompletionStep: state.DefaultCompletionStep,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr: "localhost:8742",
		},
		NATS: NATSConfig{
			SubjectPrefix: "baton",
		},
	}
}
