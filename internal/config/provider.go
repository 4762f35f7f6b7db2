package config

import (
	"strings"
	"time"
)

// ProviderType defines the kind of LLM backend a provider talks to.
type ProviderType string

const (
	// ProviderTypeOllama uses a local Ollama model-serving endpoint.
	ProviderTypeOllama ProviderType = "ollama"

	// ProviderTypeAzureAI uses the Azure AI Inference chat completions API.
	ProviderTypeAzureAI ProviderType = "azure-ai"

	// ProviderTypeAzureOpenAI uses Azure OpenAI deployments.
	ProviderTypeAzureOpenAI ProviderType = "azure-openai"
)

// ProviderTypes lists all known backend kinds.
var ProviderTypes = []ProviderType{
	ProviderTypeOllama,
	ProviderTypeAzureAI,
	ProviderTypeAzureOpenAI,
}

// KnownProviderType reports whether t names a registered backend kind.
func KnownProviderType(t ProviderType) bool {
	for _, known := range ProviderTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Provider is a configured LLM backend instance.
//
// Endpoint and APIKey are the single source of truth for connection details;
// values inside the free-form Config blob are overridden by them when the
// backend-specific schema is built. APIKey is stored fernet-encrypted at rest
// (see internal/secret) and decrypted only while constructing a client.
type Provider struct {
	// Name is the unique display name for this provider instance.
	Name string `yaml:"name" json:"name"`

	// Type selects the backend kind (ollama, azure-ai, azure-openai).
	Type ProviderType `yaml:"type" json:"type"`

	// Endpoint is the backend base URL. Mandatory for all types.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// APIKey is the credential secret. Mandatory for the hosted backends,
	// optional for ollama (sent as a bearer token when present).
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// Config carries backend-specific options, validated against the
	// backend's schema on every save. Alias keys are accepted (e.g.
	// "timeout" for "request_timeout").
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Enabled allows disabling a provider without removing it. Default: true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// TokenLimit is the soft quota per reset interval. 0 = unlimited.
	TokenLimit int64 `yaml:"token-limit,omitempty" json:"token-limit,omitempty"`

	// TokenResetInterval is the rolling quota window length (e.g. "24h").
	TokenResetInterval Duration `yaml:"token-reset-interval,omitempty" json:"token-reset-interval,omitempty"`
}

// IsEnabled returns the effective enabled flag (nil means true).
func (p *Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResetInterval returns the configured quota window length, defaulting to 24h.
func (p *Provider) ResetInterval() time.Duration {
	if d := time.Duration(p.TokenResetInterval); d > 0 {
		return d
	}
	return 24 * time.Hour
}

// Model is a configured language model belonging to exactly one provider.
type Model struct {
	// Name is the internal display name.
	Name string `yaml:"name" json:"name"`

	// Provider references the owning Provider by name.
	Provider string `yaml:"provider" json:"provider"`

	// ExternalName is the backend-specific model or deployment identifier.
	ExternalName string `yaml:"external-name" json:"external-name"`

	// DefaultParams are call parameters (temperature, top_p, max_tokens, ...)
	// forwarded verbatim to the backend payload.
	DefaultParams map[string]any `yaml:"default-params,omitempty" json:"default-params,omitempty"`

	// IsDefault marks the single fallback model across the whole model set.
	IsDefault bool `yaml:"is-default,omitempty" json:"is-default,omitempty"`

	// Enabled allows disabling a model without removing it. Default: true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled returns the effective enabled flag (nil means true).
func (m *Model) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// DisplayName mirrors the admin presentation: "provider: name [external]".
func (m *Model) DisplayName() string {
	return m.Provider + ": " + m.Name + " [" + m.ExternalName + "]"
}

// normalizeName trims and lowercases a provider/model name for lookups.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
