package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hwendt/llmgate/internal/config"
)

// The backend-specific config schemas. Each is built from a Provider record
// in three steps: copy the free-form JSON blob through an alias table (so
// users can write either canonical or friendly key names), let the explicit
// Provider columns (endpoint, credential) override JSON-supplied values, and
// validate the result against the schema's bounds. The Provider columns are
// the single source of truth for connection details.

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	Host           string
	VerifySSL      bool
	AuthToken      string
	DefaultModel   string
	ModelNames     []string
	RequestTimeout int // seconds
	Temperature    float64
	TopP           float64
}

var ollamaAliases = map[string]string{
	"host":            "host",
	"endpoint":        "host",
	"verify":          "verify_ssl",
	"verify_ssl":      "verify_ssl",
	"auth_token":      "auth_token",
	"api_key":         "auth_token",
	"default_model":   "default_model",
	"model_names":     "model_names",
	"models":          "model_names",
	"timeout":         "request_timeout",
	"request_timeout": "request_timeout",
	"temperature":     "temperature",
	"top_p":           "top_p",
}

// OllamaConfigFromProvider builds a validated OllamaConfig from a Provider
// record. The provider's APIKey must already be decrypted.
func OllamaConfigFromProvider(p *config.Provider) (*OllamaConfig, error) {
	raw := applyAliases(p.Config, ollamaAliases)

	if p.Endpoint != "" {
		raw["host"] = p.Endpoint
	}
	if p.APIKey != "" {
		raw["auth_token"] = p.APIKey
	}

	cfg := &OllamaConfig{
		VerifySSL:      true,
		DefaultModel:   "phi4:latest",
		ModelNames:     []string{"phi4:latest"},
		RequestTimeout: 60,
		Temperature:    0.8,
		TopP:           0.1,
	}
	var err error
	if cfg.Host, err = coerceString(raw, "host", cfg.Host); err != nil {
		return nil, err
	}
	if cfg.VerifySSL, err = coerceBool(raw, "verify_ssl", cfg.VerifySSL); err != nil {
		return nil, err
	}
	if cfg.AuthToken, err = coerceString(raw, "auth_token", cfg.AuthToken); err != nil {
		return nil, err
	}
	if cfg.DefaultModel, err = coerceString(raw, "default_model", cfg.DefaultModel); err != nil {
		return nil, err
	}
	if cfg.ModelNames, err = coerceStringList(raw, "model_names", cfg.ModelNames); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = coerceInt(raw, "request_timeout", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = coerceFloat(raw, "temperature", cfg.Temperature); err != nil {
		return nil, err
	}
	if cfg.TopP, err = coerceFloat(raw, "top_p", cfg.TopP); err != nil {
		return nil, err
	}

	cfg.Host = normalizeURL(cfg.Host, "http")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *OllamaConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("ollama: endpoint is required (e.g. http://localhost:11434)")
	}
	if err := inRangeInt("request_timeout", c.RequestTimeout, 1, 600); err != nil {
		return err
	}
	if err := inRange("temperature", c.Temperature, 0, 2); err != nil {
		return err
	}
	return inRange("top_p", c.TopP, 0, 1)
}

// AzureAIConfig configures the Azure AI Inference backend.
type AzureAIConfig struct {
	Endpoint         string
	APIKey           string
	APIVersion       string
	DefaultModel     string
	ModelNames       []string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	RequestTimeout   int // seconds
}

var azureAIAliases = map[string]string{
	"endpoint":          "endpoint",
	"base_url":          "endpoint",
	"api_key":           "api_key",
	"key":               "api_key",
	"api_version":       "api_version",
	"version":           "api_version",
	"default_model":     "default_model",
	"model_names":       "model_names",
	"models":            "model_names",
	"max_tokens":        "max_tokens",
	"temperature":       "temperature",
	"top_p":             "top_p",
	"presence_penalty":  "presence_penalty",
	"frequency_penalty": "frequency_penalty",
	"timeout":           "request_timeout",
	"request_timeout":   "request_timeout",
}

// AzureAIConfigFromProvider builds a validated AzureAIConfig from a Provider
// record. The provider's APIKey must already be decrypted.
func AzureAIConfigFromProvider(p *config.Provider) (*AzureAIConfig, error) {
	raw := applyAliases(p.Config, azureAIAliases)

	if p.Endpoint != "" {
		raw["endpoint"] = p.Endpoint
	}
	if p.APIKey != "" {
		raw["api_key"] = p.APIKey
	}

	cfg := &AzureAIConfig{
		APIVersion:     "2024-05-01-preview",
		DefaultModel:   "Phi-4",
		MaxTokens:      2048,
		Temperature:    0.8,
		TopP:           0.1,
		RequestTimeout: 60,
	}
	var err error
	if cfg.Endpoint, err = coerceString(raw, "endpoint", cfg.Endpoint); err != nil {
		return nil, err
	}
	if cfg.APIKey, err = coerceString(raw, "api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.APIVersion, err = coerceString(raw, "api_version", cfg.APIVersion); err != nil {
		return nil, err
	}
	if cfg.DefaultModel, err = coerceString(raw, "default_model", cfg.DefaultModel); err != nil {
		return nil, err
	}
	if cfg.ModelNames, err = coerceStringList(raw, "model_names", nil); err != nil {
		return nil, err
	}
	if cfg.MaxTokens, err = coerceInt(raw, "max_tokens", cfg.MaxTokens); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = coerceFloat(raw, "temperature", cfg.Temperature); err != nil {
		return nil, err
	}
	if cfg.TopP, err = coerceFloat(raw, "top_p", cfg.TopP); err != nil {
		return nil, err
	}
	if cfg.PresencePenalty, err = coerceFloat(raw, "presence_penalty", cfg.PresencePenalty); err != nil {
		return nil, err
	}
	if cfg.FrequencyPenalty, err = coerceFloat(raw, "frequency_penalty", cfg.FrequencyPenalty); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = coerceInt(raw, "request_timeout", cfg.RequestTimeout); err != nil {
		return nil, err
	}

	if len(cfg.ModelNames) == 0 && cfg.DefaultModel != "" {
		cfg.ModelNames = []string{cfg.DefaultModel}
	}
	cfg.Endpoint = normalizeURL(cfg.Endpoint, "https")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AzureAIConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("azure-ai: endpoint is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("azure-ai: api_key is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("azure-ai: max_tokens must be >= 1, got %d", c.MaxTokens)
	}
	if err := inRange("temperature", c.Temperature, 0, 2); err != nil {
		return err
	}
	if err := inRange("top_p", c.TopP, 0, 1); err != nil {
		return err
	}
	if err := inRange("presence_penalty", c.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if err := inRange("frequency_penalty", c.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	return inRangeInt("request_timeout", c.RequestTimeout, 1, 600)
}

// AzureOpenAIConfig configures the Azure OpenAI backend.
type AzureOpenAIConfig struct {
	Endpoint       string
	APIKey         string
	APIVersion     string
	DefaultModel   string
	ModelNames     []string
	MaxTokens      int
	Temperature    float64
	TopP           float64
	RequestTimeout int // seconds
}

var azureOpenAIAliases = map[string]string{
	"endpoint":        "endpoint",
	"base_url":        "endpoint",
	"api_key":         "api_key",
	"key":             "api_key",
	"api_version":     "api_version",
	"version":         "api_version",
	"default_model":   "default_model",
	"deployment":      "default_model",
	"model_names":     "model_names",
	"deployments":     "model_names",
	"max_tokens":      "max_tokens",
	"temperature":     "temperature",
	"top_p":           "top_p",
	"timeout":         "request_timeout",
	"request_timeout": "request_timeout",
}

// AzureOpenAIConfigFromProvider builds a validated AzureOpenAIConfig from a
// Provider record. The provider's APIKey must already be decrypted.
func AzureOpenAIConfigFromProvider(p *config.Provider) (*AzureOpenAIConfig, error) {
	raw := applyAliases(p.Config, azureOpenAIAliases)

	if p.Endpoint != "" {
		raw["endpoint"] = p.Endpoint
	}
	if p.APIKey != "" {
		raw["api_key"] = p.APIKey
	}

	cfg := &AzureOpenAIConfig{
		APIVersion:     "2024-12-01-preview",
		DefaultModel:   "gpt-4o-mini",
		MaxTokens:      2000,
		Temperature:    0.7,
		TopP:           1.0,
		RequestTimeout: 30,
	}
	var err error
	if cfg.Endpoint, err = coerceString(raw, "endpoint", cfg.Endpoint); err != nil {
		return nil, err
	}
	if cfg.APIKey, err = coerceString(raw, "api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.APIVersion, err = coerceString(raw, "api_version", cfg.APIVersion); err != nil {
		return nil, err
	}
	if cfg.DefaultModel, err = coerceString(raw, "default_model", cfg.DefaultModel); err != nil {
		return nil, err
	}
	if cfg.ModelNames, err = coerceStringList(raw, "model_names", nil); err != nil {
		return nil, err
	}
	if cfg.MaxTokens, err = coerceInt(raw, "max_tokens", cfg.MaxTokens); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = coerceFloat(raw, "temperature", cfg.Temperature); err != nil {
		return nil, err
	}
	if cfg.TopP, err = coerceFloat(raw, "top_p", cfg.TopP); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = coerceInt(raw, "request_timeout", cfg.RequestTimeout); err != nil {
		return nil, err
	}

	if len(cfg.ModelNames) == 0 && cfg.DefaultModel != "" {
		cfg.ModelNames = []string{cfg.DefaultModel}
	}
	cfg.Endpoint = normalizeURL(cfg.Endpoint, "https")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AzureOpenAIConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("azure-openai: endpoint is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("azure-openai: api_key is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("azure-openai: max_tokens must be >= 1, got %d", c.MaxTokens)
	}
	if err := inRange("temperature", c.Temperature, 0, 2); err != nil {
		return err
	}
	if err := inRange("top_p", c.TopP, 0, 1); err != nil {
		return err
	}
	return inRangeInt("request_timeout", c.RequestTimeout, 1, 600)
}

// applyAliases copies blob entries whose keys appear in the alias table,
// mapping friendly names onto canonical ones. Unknown keys are dropped.
func applyAliases(blob map[string]any, aliases map[string]string) map[string]any {
	out := make(map[string]any, len(blob))
	for key, value := range blob {
		target, ok := aliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		out[target] = value
	}
	return out
}

// normalizeURL prepends the given scheme when the value has none.
func normalizeURL(raw, scheme string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = scheme + "://" + u
	}
	return strings.TrimRight(u, "/")
}

func coerceString(raw map[string]any, key, def string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	default:
		return "", fmt.Errorf("config key %q: expected string, got %T", key, v)
	}
}

func coerceBool(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("config key %q: invalid bool %q", key, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("config key %q: expected bool, got %T", key, v)
	}
}

func coerceInt(raw map[string]any, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("config key %q: invalid integer %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("config key %q: expected integer, got %T", key, v)
	}
}

func coerceFloat(raw map[string]any, key string, def float64) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("config key %q: invalid number %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("config key %q: expected number, got %T", key, v)
	}
}

// coerceStringList accepts either a list of strings or a comma-separated
// string ("phi4:latest, llama3:8b").
func coerceStringList(raw map[string]any, key string, def []string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch list := v.(type) {
	case []string:
		return trimNonEmpty(list), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("config key %q: expected list of strings", key)
			}
			out = append(out, s)
		}
		return trimNonEmpty(out), nil
	case string:
		return trimNonEmpty(strings.Split(list, ",")), nil
	default:
		return nil, fmt.Errorf("config key %q: expected list of strings, got %T", key, v)
	}
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func inRange(name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("config key %q: %v out of range [%v, %v]", name, v, lo, hi)
	}
	return nil
}

func inRangeInt(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("config key %q: %d out of range [%d, %d]", name, v, lo, hi)
	}
	return nil
}
