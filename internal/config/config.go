package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the HTTP port used when the config does not set one.
const DefaultPort = 8715

// UsageConfig controls the usage persistence and estimation layer.
type UsageConfig struct {
	// DSN selects the usage database (sqlite:// or postgres://). Empty
	// disables persistence and, with it, quota enforcement.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// RetentionDays is how long usage records are kept. Default: 90.
	RetentionDays int `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`

	// Estimator selects the fallback token estimation strategy
	// ("rough" or "tiktoken"). Default: rough.
	Estimator string `yaml:"estimator,omitempty" json:"estimator,omitempty"`

	// CharsPerToken overrides the locale baseline of the rough estimator.
	CharsPerToken float64 `yaml:"chars-per-token,omitempty" json:"chars-per-token,omitempty"`
}

// Config is the root configuration for the llmgate service.
type Config struct {
	mu sync.RWMutex

	Port          int    `yaml:"port,omitempty" json:"port,omitempty"`
	Debug         bool   `yaml:"debug,omitempty" json:"debug,omitempty"`
	LoggingToFile bool   `yaml:"logging-to-file,omitempty" json:"logging-to-file,omitempty"`
	LogDir        string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Locale drives the rough estimator's chars-per-token baseline.
	Locale string `yaml:"locale,omitempty" json:"locale,omitempty"`

	// ManagementKey protects the management API. Overridable via env.
	ManagementKey string `yaml:"management-key,omitempty" json:"management-key,omitempty"`

	// MaxRequestSize caps the request body in bytes for stream requests.
	MaxRequestSize int64 `yaml:"max-request-size,omitempty" json:"max-request-size,omitempty"`

	Usage UsageConfig `yaml:"usage,omitempty" json:"usage,omitempty"`

	Providers []Provider `yaml:"providers,omitempty" json:"providers,omitempty"`
	Models    []Model    `yaml:"models,omitempty" json:"models,omitempty"`
}

// NewDefaultConfig returns a config populated with sane defaults and a
// commented-out example provider set via GenerateDefaultConfigYAML.
func NewDefaultConfig() *Config {
	return &Config{
		Port:   DefaultPort,
		Locale: "de",
		Usage: UsageConfig{
			RetentionDays: 90,
			Estimator:     "rough",
		},
	}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file
// when optional is true, returning nil in that case.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil && optional && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return cfg, err
}

// Save atomically persists the config to path (write temp file, rename).
func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := yaml.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Clone returns a deep-enough copy for candidate validation: provider and
// model slices are copied, the nested maps are shared.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Config{
		Port:           c.Port,
		Debug:          c.Debug,
		LoggingToFile:  c.LoggingToFile,
		LogDir:         c.LogDir,
		Locale:         c.Locale,
		ManagementKey:  c.ManagementKey,
		MaxRequestSize: c.MaxRequestSize,
		Usage:          c.Usage,
	}
	clone.Providers = append([]Provider(nil), c.Providers...)
	clone.Models = append([]Model(nil), c.Models...)
	return clone
}

// ApplyFrom copies src's state into c in place, so long-lived holders of c
// observe the new configuration after a reload.
func (c *Config) ApplyFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Port = src.Port
	c.Debug = src.Debug
	c.LoggingToFile = src.LoggingToFile
	c.LogDir = src.LogDir
	c.Locale = src.Locale
	c.ManagementKey = src.ManagementKey
	c.MaxRequestSize = src.MaxRequestSize
	c.Usage = src.Usage
	c.Providers = append([]Provider(nil), src.Providers...)
	c.Models = append([]Model(nil), src.Models...)
}

// Validate checks structural invariants: unique provider names, known
// provider types, models referencing existing providers, non-empty external
// names, and at most one default model. Unknown provider types are a hard
// configuration error here, never at stream time.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		name := normalizeName(p.Name)
		if name == "" {
			return fmt.Errorf("config: provider #%d has no name", i+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[name] = struct{}{}
		if !KnownProviderType(p.Type) {
			return fmt.Errorf("config: provider %q has unknown type %q", p.Name, p.Type)
		}
		if p.TokenLimit < 0 {
			return fmt.Errorf("config: provider %q has negative token-limit", p.Name)
		}
	}

	defaults := 0
	modelSeen := make(map[string]struct{}, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if strings.TrimSpace(m.ExternalName) == "" {
			return fmt.Errorf("config: model %q has no external-name", m.Name)
		}
		if _, ok := seen[normalizeName(m.Provider)]; !ok {
			return fmt.Errorf("config: model %q references unknown provider %q", m.Name, m.Provider)
		}
		key := normalizeName(m.Provider) + "/" + normalizeName(m.ExternalName)
		if _, dup := modelSeen[key]; dup {
			return fmt.Errorf("config: duplicate model %q for provider %q", m.ExternalName, m.Provider)
		}
		modelSeen[key] = struct{}{}
		if m.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("config: more than one default model")
	}
	return nil
}

// FindProvider returns the provider with the given name, or nil.
func (c *Config) FindProvider(name string) *Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := normalizeName(name)
	for i := range c.Providers {
		if normalizeName(c.Providers[i].Name) == want {
			return &c.Providers[i]
		}
	}
	return nil
}

// FindModel returns the model with the given name, or nil.
func (c *Config) FindModel(name string) *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := normalizeName(name)
	for i := range c.Models {
		if normalizeName(c.Models[i].Name) == want {
			return &c.Models[i]
		}
	}
	return nil
}

// DefaultModel returns the model flagged is-default, falling back to the
// first enabled model when none is flagged.
func (c *Config) DefaultModel() *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Models {
		if c.Models[i].IsDefault {
			return &c.Models[i]
		}
	}
	for i := range c.Models {
		if c.Models[i].IsEnabled() {
			return &c.Models[i]
		}
	}
	return nil
}

// UpsertModel inserts or replaces a model by name. When the model is saved
// with is-default=true, the flag is cleared on every other model so at most
// one default exists across the whole set.
func (c *Config) UpsertModel(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := normalizeName(m.Name)
	replaced := false
	for i := range c.Models {
		if normalizeName(c.Models[i].Name) == want {
			c.Models[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		c.Models = append(c.Models, m)
	}
	if m.IsDefault {
		for i := range c.Models {
			if normalizeName(c.Models[i].Name) != want {
				c.Models[i].IsDefault = false
			}
		}
	}
}

// RemoveModel deletes a model by name, returning whether it existed.
func (c *Config) RemoveModel(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := normalizeName(name)
	for i := range c.Models {
		if normalizeName(c.Models[i].Name) == want {
			c.Models = append(c.Models[:i], c.Models[i+1:]...)
			return true
		}
	}
	return false
}

// UpsertProvider inserts or replaces a provider by name.
func (c *Config) UpsertProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := normalizeName(p.Name)
	for i := range c.Providers {
		if normalizeName(c.Providers[i].Name) == want {
			c.Providers[i] = p
			return
		}
	}
	c.Providers = append(c.Providers, p)
}

// RemoveProvider deletes a provider by name. It refuses to delete a provider
// that still owns models (restrict-on-delete).
func (c *Config) RemoveProvider(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := normalizeName(name)
	for i := range c.Models {
		if normalizeName(c.Models[i].Provider) == want {
			return fmt.Errorf("provider %q still has models; delete them first", name)
		}
	}
	for i := range c.Providers {
		if normalizeName(c.Providers[i].Name) == want {
			c.Providers = append(c.Providers[:i], c.Providers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("provider %q not found", name)
}

// ModelsForProvider lists models owned by the named provider.
func (c *Config) ModelsForProvider(name string) []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := normalizeName(name)
	var out []Model
	for i := range c.Models {
		if normalizeName(c.Models[i].Provider) == want {
			out = append(out, c.Models[i])
		}
	}
	return out
}

// GenerateDefaultConfigYAML renders the default config template written on
// first run.
func GenerateDefaultConfigYAML() []byte {
	return []byte(`# llmgate configuration
port: 8715
locale: de
# management-key: change-me

usage:
  dsn: sqlite://~/.config/llmgate/usage.sqlite
  retention-days: 90
  estimator: rough

providers:
  - name: local-ollama
    type: ollama
    endpoint: http://localhost:11434
    token-limit: 0
    token-reset-interval: 24h
    config:
      default_model: phi4:latest

models:
  - name: phi-4
    provider: local-ollama
    external-name: phi4:latest
    is-default: true
    default-params:
      temperature: 0.8
      top_p: 0.1
`)
}
