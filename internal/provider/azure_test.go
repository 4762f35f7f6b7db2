package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/secret"
)

func newTestKeeper(t *testing.T) (*secret.Keeper, error) {
	t.Helper()
	return secret.NewKeeper(t.TempDir())
}

func azureOpenAIClientFor(t *testing.T, serverURL string) *AzureOpenAIClient {
	t.Helper()
	cfg, err := AzureOpenAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureOpenAI,
		Endpoint: serverURL, APIKey: "secret-key",
	})
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return NewAzureOpenAIClient(cfg, NewRoughEstimator("en", 0))
}

func azureAIClientFor(t *testing.T, serverURL string) *AzureAIClient {
	t.Helper()
	cfg, err := AzureAIConfigFromProvider(&config.Provider{
		Name: "az", Type: config.ProviderTypeAzureAI,
		Endpoint: serverURL, APIKey: "secret-key",
	})
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return NewAzureAIClient(cfg, NewRoughEstimator("en", 0))
}

func TestAzureOpenAIStreamDeliversFragmentsAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/openai/deployments/gpt-4o-mini/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("api-key"); got != "secret-key" {
			t.Errorf("api-key header = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-12-01-preview" {
			t.Errorf("api-version = %q", got)
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if !gjson.GetBytes(body, "stream_options.include_usage").Bool() {
			t.Error("stream_options.include_usage should be requested")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Good\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" work\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":30,\"completion_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var report UsageReport
	client := azureOpenAIClientFor(t, server.URL)
	fragments, err := collectStream(client.Stream(context.Background(), Request{
		SystemPrompt: "grade this",
		UserInput:    "essay",
		OnUsage:      func(r UsageReport) { report = r },
	}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := strings.Join(fragments, ""); got != "Good work" {
		t.Errorf("output = %q", got)
	}
	if report.SystemTokens != 30 || report.CompletionTokens != 5 {
		t.Errorf("tokens = (%d, %d), want vendor counts (30, 5)", report.SystemTokens, report.CompletionTokens)
	}
	if report.Estimated {
		t.Error("vendor-reported usage must not be flagged estimated")
	}
	if report.Duration <= 0 {
		t.Error("duration should be measured locally")
	}
}

func TestAzureOpenAIStreamSkipsMalformedChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {{{broken\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := azureOpenAIClientFor(t, server.URL)
	fragments, err := collectStream(client.Stream(context.Background(), Request{UserInput: "x"}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := strings.Join(fragments, ""); got != "ab" {
		t.Errorf("output = %q, malformed and comment lines should be skipped", got)
	}
}

func TestAzureOpenAIDeploymentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"DeploymentNotFound","message":"The API deployment for this resource does not exist."}}`,
			http.StatusNotFound)
	}))
	defer server.Close()

	client := azureOpenAIClientFor(t, server.URL)
	_, err := collectStream(client.Stream(context.Background(), Request{UserInput: "x"}))
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(err.Error(), `deployment "gpt-4o-mini" not found`) {
		t.Errorf("error %q should name the missing deployment", err)
	}
}

func TestAzureAIStreamSendsModelInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if got := gjson.GetBytes(body, "model").String(); got != "Phi-4" {
			t.Errorf("model in body = %q, want Phi-4", got)
		}
		if gjson.GetBytes(body, "presence_penalty").Type == gjson.Null {
			t.Error("presence_penalty should be present in the payload")
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := azureAIClientFor(t, server.URL)
	fragments, err := collectStream(client.Stream(context.Background(), Request{UserInput: "x"}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := strings.Join(fragments, ""); got != "hi" {
		t.Errorf("output = %q", got)
	}
}

func TestAzureAIDefaultParamsDoNotOverridePayload(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = make([]byte, r.ContentLength)
		r.Body.Read(gotBody)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := azureAIClientFor(t, server.URL)
	_, err := collectStream(client.Stream(context.Background(), Request{
		UserInput: "x",
		Params: map[string]any{
			"temperature": 1.9, // already set by backend config, must not win
			"seed":        42,  // absent, must be merged in
		},
	}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := gjson.GetBytes(gotBody, "temperature").Float(); got != 0.8 {
		t.Errorf("temperature = %v, model params must not override backend config", got)
	}
	if got := gjson.GetBytes(gotBody, "seed").Int(); got != 42 {
		t.Errorf("seed = %d, absent params should be merged", got)
	}
}

func TestAzureAITestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if gjson.GetBytes(body, "stream").Bool() {
			t.Error("test connection should not stream")
		}
		if got := gjson.GetBytes(body, "max_tokens").Int(); got != 1 {
			t.Errorf("max_tokens = %d, probe should ask for a single token", got)
		}
		fmt.Fprintln(w, `{"choices":[{"message":{"content":"pong"}}]}`)
	}))
	defer server.Close()

	client := azureAIClientFor(t, server.URL)
	ok, msg := client.TestConnection(context.Background(), "")
	if !ok {
		t.Fatalf("expected success, got %q", msg)
	}
	if !strings.Contains(msg, "Phi-4") {
		t.Errorf("message %q should name the model", msg)
	}
}

func TestAzureOpenAITestConnectionRequestsSingleToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if got := gjson.GetBytes(body, "max_tokens").Int(); got != 1 {
			t.Errorf("max_tokens = %d, probe should ask for a single token", got)
		}
		fmt.Fprintln(w, `{"choices":[{"message":{"content":"pong"}}]}`)
	}))
	defer server.Close()

	client := azureOpenAIClientFor(t, server.URL)
	ok, msg := client.TestConnection(context.Background(), "")
	if !ok {
		t.Fatalf("expected success, got %q", msg)
	}
}

func TestRegistryDecryptsCredentialAndCaches(t *testing.T) {
	keeper, err := newTestKeeper(t)
	if err != nil {
		t.Fatalf("keeper: %v", err)
	}
	encrypted, err := keeper.Encrypt("plain-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	record := &config.Provider{
		Name: "local", Type: config.ProviderTypeOllama,
		Endpoint: server.URL, APIKey: encrypted,
	}
	registry := NewRegistry(keeper, NewRoughEstimator("en", 0))
	client, err := registry.ClientFor(record)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	collectStream(client.Stream(context.Background(), Request{UserInput: "x"}))
	if gotAuth != "Bearer plain-token" {
		t.Errorf("Authorization = %q, credential should be decrypted before use", gotAuth)
	}

	again, err := registry.ClientFor(record)
	if err != nil {
		t.Fatalf("ClientFor (cached): %v", err)
	}
	if again != client {
		t.Error("second lookup should return the cached client")
	}
	registry.Reset()
	rebuilt, err := registry.ClientFor(record)
	if err != nil {
		t.Fatalf("ClientFor (after reset): %v", err)
	}
	if rebuilt == client {
		t.Error("Reset should drop cached clients")
	}
}

func TestRegistryRejectsDisabledAndUnknown(t *testing.T) {
	keeper, err := newTestKeeper(t)
	if err != nil {
		t.Fatalf("keeper: %v", err)
	}
	registry := NewRegistry(keeper, NewRoughEstimator("en", 0))

	off := false
	if _, err := registry.ClientFor(&config.Provider{
		Name: "x", Type: config.ProviderTypeOllama, Endpoint: "http://h", Enabled: &off,
	}); err == nil {
		t.Error("disabled provider should be rejected")
	}
	if _, err := registry.ClientFor(&config.Provider{
		Name: "x", Type: "openrouter", Endpoint: "http://h",
	}); err == nil {
		t.Error("unknown provider type should be rejected")
	}
}
