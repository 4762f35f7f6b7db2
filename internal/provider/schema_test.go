package provider

import (
	"reflect"
	"testing"

	"github.com/hwendt/llmgate/internal/config"
)

func TestOllamaConfigAliases(t *testing.T) {
	canonical, err := OllamaConfigFromProvider(&config.Provider{
		Name: "a", Type: config.ProviderTypeOllama,
		Config: map[string]any{
			"host":            "localhost:11434",
			"request_timeout": 120,
		},
	})
	if err != nil {
		t.Fatalf("canonical config: %v", err)
	}
	aliased, err := OllamaConfigFromProvider(&config.Provider{
		Name: "b", Type: config.ProviderTypeOllama,
		Config: map[string]any{
			"endpoint": "localhost:11434",
			"timeout":  120,
		},
	})
	if err != nil {
		t.Fatalf("aliased config: %v", err)
	}
	if !reflect.DeepEqual(canonical, aliased) {
		t.Errorf("alias keys produced a different config:\ncanonical %+v\naliased   %+v", canonical, aliased)
	}
	if aliased.RequestTimeout != 120 {
		t.Errorf("request_timeout = %d, want 120", aliased.RequestTimeout)
	}
	if aliased.Host != "http://localhost:11434" {
		t.Errorf("host = %q, want scheme-normalized", aliased.Host)
	}
}

func TestOllamaConfigDefaults(t *testing.T) {
	cfg, err := OllamaConfigFromProvider(&config.Provider{
		Name: "local", Type: config.ProviderTypeOllama,
		Endpoint: "http://localhost:11434",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.VerifySSL {
		t.Error("verify_ssl should default to true")
	}
	if cfg.RequestTimeout != 60 {
		t.Errorf("request_timeout = %d, want 60", cfg.RequestTimeout)
	}
	if cfg.DefaultModel != "phi4:latest" {
		t.Errorf("default_model = %q, want phi4:latest", cfg.DefaultModel)
	}
	if cfg.Temperature != 0.8 || cfg.TopP != 0.1 {
		t.Errorf("sampling defaults = (%v, %v), want (0.8, 0.1)", cfg.Temperature, cfg.TopP)
	}
}

func TestOllamaConfigColumnsOverrideBlob(t *testing.T) {
	cfg, err := OllamaConfigFromProvider(&config.Provider{
		Name: "local", Type: config.ProviderTypeOllama,
		Endpoint: "http://real:11434",
		APIKey:   "column-token",
		Config: map[string]any{
			"host":       "http://stale:11434",
			"auth_token": "blob-token",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "http://real:11434" {
		t.Errorf("host = %q, provider column should win over blob", cfg.Host)
	}
	if cfg.AuthToken != "column-token" {
		t.Errorf("auth_token = %q, provider column should win over blob", cfg.AuthToken)
	}
}

func TestOllamaConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		p    config.Provider
	}{
		{"missing host", config.Provider{Name: "x", Type: config.ProviderTypeOllama}},
		{"timeout too large", config.Provider{Name: "x", Type: config.ProviderTypeOllama,
			Endpoint: "http://h", Config: map[string]any{"timeout": 601}}},
		{"timeout zero", config.Provider{Name: "x", Type: config.ProviderTypeOllama,
			Endpoint: "http://h", Config: map[string]any{"timeout": 0}}},
		{"temperature out of range", config.Provider{Name: "x", Type: config.ProviderTypeOllama,
			Endpoint: "http://h", Config: map[string]any{"temperature": 2.5}}},
		{"top_p out of range", config.Provider{Name: "x", Type: config.ProviderTypeOllama,
			Endpoint: "http://h", Config: map[string]any{"top_p": -0.1}}},
		{"bad type", config.Provider{Name: "x", Type: config.ProviderTypeOllama,
			Endpoint: "http://h", Config: map[string]any{"timeout": []any{1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := OllamaConfigFromProvider(&tc.p); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestOllamaModelNamesCommaSplit(t *testing.T) {
	cfg, err := OllamaConfigFromProvider(&config.Provider{
		Name: "local", Type: config.ProviderTypeOllama,
		Endpoint: "http://h",
		Config:   map[string]any{"models": "phi4:latest, llama3:8b ,"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"phi4:latest", "llama3:8b"}
	if !reflect.DeepEqual(cfg.ModelNames, want) {
		t.Errorf("model_names = %v, want %v", cfg.ModelNames, want)
	}
}

func TestAzureOpenAIConfigAliases(t *testing.T) {
	cfg, err := AzureOpenAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureOpenAI,
		Config: map[string]any{
			"base_url":   "myresource.openai.azure.com",
			"key":        "blob-key",
			"version":    "2025-01-01-preview",
			"deployment": "gpt-4o",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "https://myresource.openai.azure.com" {
		t.Errorf("endpoint = %q, want https-normalized base_url", cfg.Endpoint)
	}
	if cfg.APIKey != "blob-key" {
		t.Errorf("api_key = %q, want value from alias 'key'", cfg.APIKey)
	}
	if cfg.APIVersion != "2025-01-01-preview" {
		t.Errorf("api_version = %q, want aliased 'version'", cfg.APIVersion)
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("default_model = %q, want aliased 'deployment'", cfg.DefaultModel)
	}
	if !reflect.DeepEqual(cfg.ModelNames, []string{"gpt-4o"}) {
		t.Errorf("model_names = %v, want derived from default_model", cfg.ModelNames)
	}
}

func TestAzureOpenAIConfigDefaults(t *testing.T) {
	cfg, err := AzureOpenAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureOpenAI,
		Endpoint: "https://r.openai.azure.com",
		APIKey:   "k",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIVersion != "2024-12-01-preview" {
		t.Errorf("api_version = %q", cfg.APIVersion)
	}
	if cfg.MaxTokens != 2000 || cfg.RequestTimeout != 30 {
		t.Errorf("max_tokens/timeout = %d/%d, want 2000/30", cfg.MaxTokens, cfg.RequestTimeout)
	}
	if cfg.Temperature != 0.7 || cfg.TopP != 1.0 {
		t.Errorf("sampling defaults = (%v, %v), want (0.7, 1.0)", cfg.Temperature, cfg.TopP)
	}
}

func TestAzureOpenAIConfigRequiresCredentials(t *testing.T) {
	if _, err := AzureOpenAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureOpenAI,
		Endpoint: "https://r.openai.azure.com",
	}); err == nil {
		t.Error("expected error for missing api_key")
	}
	if _, err := AzureOpenAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureOpenAI,
		APIKey: "k",
	}); err == nil {
		t.Error("expected error for missing endpoint")
	}
}

func TestAzureAIConfigPenaltyBounds(t *testing.T) {
	base := func(extra map[string]any) *config.Provider {
		cfg := map[string]any{}
		for k, v := range extra {
			cfg[k] = v
		}
		return &config.Provider{
			Name: "az", Type: config.ProviderTypeAzureAI,
			Endpoint: "https://models.inference.ai", APIKey: "k",
			Config: cfg,
		}
	}
	if cfg, err := AzureAIConfigFromProvider(base(map[string]any{"presence_penalty": 1.5})); err != nil {
		t.Errorf("presence_penalty 1.5 should validate: %v", err)
	} else if cfg.PresencePenalty != 1.5 {
		t.Errorf("presence_penalty = %v, want 1.5", cfg.PresencePenalty)
	}
	if _, err := AzureAIConfigFromProvider(base(map[string]any{"presence_penalty": 2.1})); err == nil {
		t.Error("presence_penalty 2.1 should fail validation")
	}
	if _, err := AzureAIConfigFromProvider(base(map[string]any{"frequency_penalty": -2.5})); err == nil {
		t.Error("frequency_penalty -2.5 should fail validation")
	}
}

func TestAzureAIConfigDefaults(t *testing.T) {
	cfg, err := AzureAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureAI,
		Endpoint: "models.inference.ai", APIKey: "k",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "https://models.inference.ai" {
		t.Errorf("endpoint = %q, want https-normalized", cfg.Endpoint)
	}
	if cfg.APIVersion != "2024-05-01-preview" {
		t.Errorf("api_version = %q", cfg.APIVersion)
	}
	if cfg.DefaultModel != "Phi-4" || cfg.MaxTokens != 2048 {
		t.Errorf("default_model/max_tokens = %q/%d", cfg.DefaultModel, cfg.MaxTokens)
	}
}

func TestUnknownConfigKeysIgnored(t *testing.T) {
	_, err := OllamaConfigFromProvider(&config.Provider{
		Name: "x", Type: config.ProviderTypeOllama,
		Endpoint: "http://h",
		Config:   map[string]any{"totally_unknown": "value"},
	})
	if err != nil {
		t.Errorf("unknown keys should be ignored, got %v", err)
	}
}
