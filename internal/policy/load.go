package policy

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Provider supplies the active policy. Implementations must be safe for
// concurrent use; callers should not mutate the returned Config.
type Provider interface {
	Current() *Config
}

// Static is a Provider that always returns the same policy.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg. A nil cfg means Default().
func NewStatic(cfg *Config) *Static {
	if cfg == nil {
		cfg = Default()
	}
	return &Static{cfg: cfg}
}

// Current returns the wrapped policy.
func (s *Static) Current() *Config {
	return s.cfg
}

// Holder is a Provider whose policy can be swapped at runtime.
type Holder struct {
	cur atomic.Pointer[Config]
}

// NewHolder creates a holder with an initial policy. A nil cfg means Default().
func NewHolder(cfg *Config) *Holder {
	if cfg == nil {
		cfg = Default()
	}
	h := &Holder{}
	h.cur.Store(cfg)
	return h
}

// Current returns the active policy.
func (h *Holder) Current() *Config {
	return h.cur.Load()
}

// Swap replaces the active policy and returns the previous one.
func (h *Holder) Swap(cfg *Config) *Config {
	return h.cur.Swap(cfg)
}

// Parse decodes a YAML policy on top of Default() and validates it.
// Sections absent from data keep their default tables; a section that is
// present replaces the default list wholesale.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses the policy file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML, the format LoadFile reads.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
