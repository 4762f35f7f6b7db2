package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/provider"
	"github.com/hwendt/llmgate/internal/quota"
	"github.com/hwendt/llmgate/internal/secret"
	"github.com/hwendt/llmgate/internal/stream"
	"github.com/hwendt/llmgate/internal/usage"
)

const testManagementKey = "test-management-key"

type testEnv struct {
	handler    http.Handler
	cfg        *config.Config
	configPath string
	backend    usage.Backend
	tracker    *quota.Tracker
	upstream   *httptest.Server
}

// newUpstream serves the chat endpoint with two fragments and vendor token
// counts, plus the tag listing used by connection tests.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			fmt.Fprintln(w, `{"message":{"content":"Gut"},"done":false}`)
			fmt.Fprintln(w, `{"message":{"content":" gemacht."},"done":false}`)
			fmt.Fprintln(w, `{"done":true,"prompt_eval_count":12,"eval_count":3,"total_duration":900000000}`)
		case "/api/tags":
			fmt.Fprintln(w, `{"models":[{"name":"phi4:latest"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestEnv(t *testing.T, tokenLimit int64) *testEnv {
	t.Helper()

	upstream := newUpstream(t)
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.ManagementKey = testManagementKey
	cfg.Providers = []config.Provider{{
		Name:               "local",
		Type:               config.ProviderTypeOllama,
		Endpoint:           upstream.URL,
		TokenLimit:         tokenLimit,
		TokenResetInterval: config.Duration(time.Hour),
	}}
	cfg.Models = []config.Model{{
		Name:         "feedback",
		Provider:     "local",
		ExternalName: "phi4:latest",
		IsDefault:    true,
	}}
	configPath := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("save config: %v", err)
	}

	keeper, err := secret.NewKeeper(dir)
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}
	backend, err := usage.NewBackend(usage.BackendConfig{
		DSN: "sqlite://" + filepath.Join(dir, "usage.sqlite"),
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { backend.Stop() })

	est := provider.NewRoughEstimator("en", 0)
	registry := provider.NewRegistry(keeper, est)
	tracker := quota.NewTracker(backend)
	orch := stream.NewOrchestrator(cfg, registry, tracker, backend)

	handler := NewRouter(Dependencies{
		Config:       cfg,
		ConfigPath:   configPath,
		Keeper:       keeper,
		Registry:     registry,
		Orchestrator: orch,
		Tracker:      tracker,
		Backend:      backend,
	})
	return &testEnv{
		handler:    handler,
		cfg:        cfg,
		configPath: configPath,
		backend:    backend,
		tracker:    tracker,
		upstream:   upstream,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testManagementKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "status").String() != "ok" {
		t.Errorf("body = %s, want status ok", rec.Body.String())
	}
}

func TestManagementAuth(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/v1/management/providers", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/management/providers", nil)
	req.Header.Set("X-Management-Key", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/management/providers", nil)
	req.Header.Set("X-Management-Key", testManagementKey)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("header-key status = %d, want 200", rec.Code)
	}

	env.cfg.ManagementKey = ""
	rec = env.do(t, http.MethodGet, "/v1/management/providers", "", true)
	if rec.Code != http.StatusForbidden {
		t.Errorf("disabled status = %d, want 403", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.code").String(); got != "MANAGEMENT_DISABLED" {
		t.Errorf("error code = %q, want MANAGEMENT_DISABLED", got)
	}
}

func TestProviderLifecycle(t *testing.T) {
	env := newTestEnv(t, 0)

	body := fmt.Sprintf(`{
		"type": "ollama",
		"endpoint": %q,
		"api-key": "super-secret-token",
		"config": {"default_model": "phi4:latest"}
	}`, env.upstream.URL)
	rec := env.do(t, http.MethodPut, "/v1/management/providers/second", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}
	masked := gjson.Get(rec.Body.String(), "data.api-key").String()
	if strings.Contains(masked, "super-secret") || !strings.HasSuffix(masked, "oken") {
		t.Errorf("api-key = %q, want masked tail", masked)
	}

	// The credential must be encrypted at rest, never stored in plaintext.
	raw, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-token") {
		t.Error("plaintext credential written to config file")
	}
	if !strings.Contains(string(raw), "enc:") {
		t.Error("config file has no encrypted credential")
	}

	rec = env.do(t, http.MethodGet, "/v1/management/providers", "", true)
	if got := gjson.Get(rec.Body.String(), "data.#").Int(); got != 2 {
		t.Errorf("provider count = %d, want 2", got)
	}

	// Out-of-range option is rejected before anything is saved.
	invalid := fmt.Sprintf(`{"type":"ollama","endpoint":%q,"config":{"temperature":9}}`, env.upstream.URL)
	rec = env.do(t, http.MethodPut, "/v1/management/providers/bad", invalid, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config status = %d, want 400", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.code").String(); got != "INVALID_CONFIG" {
		t.Errorf("error code = %q, want INVALID_CONFIG", got)
	}

	// A provider that still owns models cannot be deleted.
	rec = env.do(t, http.MethodDelete, "/v1/management/providers/local", "", true)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete owning provider status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/v1/management/providers/second", "", true)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/v1/management/providers/second", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestPutProviderRejectsUnreachableBackend(t *testing.T) {
	env := newTestEnv(t, 0)

	body := `{"type":"ollama","endpoint":"http://127.0.0.1:1"}`
	rec := env.do(t, http.MethodPut, "/v1/management/providers/dead", body, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "error.code").String(); got != "INVALID_CONFIG" {
		t.Errorf("error code = %q, want INVALID_CONFIG", got)
	}
	if !strings.Contains(rec.Body.String(), "connection probe failed") {
		t.Errorf("body = %s, want probe failure message", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/management/providers/dead", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unreachable provider was persisted: status = %d", rec.Code)
	}

	raw, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(raw), "dead") {
		t.Error("unreachable provider written to config file")
	}
}

func TestModelDefaultFlagMovesOnPut(t *testing.T) {
	env := newTestEnv(t, 0)

	body := `{"provider":"local","external-name":"other:latest","is-default":true}`
	rec := env.do(t, http.MethodPut, "/v1/management/models/alt", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/management/models", "", true)
	list := gjson.Get(rec.Body.String(), "data")
	defaults := 0
	var defaultName string
	list.ForEach(func(_, m gjson.Result) bool {
		if m.Get("is-default").Bool() {
			defaults++
			defaultName = m.Get("name").String()
		}
		return true
	})
	if defaults != 1 || defaultName != "alt" {
		t.Errorf("defaults = %d (%q), want exactly one on alt", defaults, defaultName)
	}

	// Model pointing at a provider that does not exist is rejected.
	rec = env.do(t, http.MethodPut, "/v1/management/models/bad",
		`{"provider":"nope","external-name":"x"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", rec.Code)
	}
}

func TestQuotaEndpointAndReset(t *testing.T) {
	env := newTestEnv(t, 1000)

	// First status call opens the window; the record below must land inside it.
	rec := env.do(t, http.MethodGet, "/v1/management/providers/local/quota", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("initial quota status = %d, body %s", rec.Code, rec.Body.String())
	}

	err := env.backend.Insert(context.Background(), usage.Record{
		Provider: "local", Model: "feedback", RequestedAt: time.Now(), TotalTokens: 400,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/v1/management/providers/local/quota", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("quota status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "data.used").Int(); got != 400 {
		t.Errorf("used = %d, want 400", got)
	}
	if got := gjson.Get(body, "data.remaining").Int(); got != 600 {
		t.Errorf("remaining = %d, want 600", got)
	}

	rec = env.do(t, http.MethodPost, "/v1/management/providers/local/quota/reset", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "data.used").Int(); got != 0 {
		t.Errorf("used after reset = %d, want 0", got)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	now := time.Now()
	for i, rec := range []usage.Record{
		{Provider: "local", Model: "feedback", RequestedAt: now, TotalTokens: 100},
		{Provider: "local", Model: "feedback", RequestedAt: now, TotalTokens: 50, Failed: true},
	} {
		if err := env.backend.Insert(context.Background(), rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/management/usage?days=7", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "data.total_requests").Int(); got != 2 {
		t.Errorf("total_requests = %d, want 2", got)
	}
	if got := gjson.Get(body, "data.failure_count").Int(); got != 1 {
		t.Errorf("failure_count = %d, want 1", got)
	}
	if got := gjson.Get(body, "data.total_tokens").Int(); got != 150 {
		t.Errorf("total_tokens = %d, want 150", got)
	}

	rec = env.do(t, http.MethodGet, "/v1/management/usage?days=0", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 status = %d, want 400", rec.Code)
	}
}

func TestFeedbackStreamSSE(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodPost, "/v1/feedback/stream",
		`{"submission":"my essay text","task_title":"Essay"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: delta") {
		t.Error("missing delta events")
	}
	if !strings.Contains(body, `\"Gut\"`) && !strings.Contains(body, `"Gut"`) {
		t.Errorf("first fragment missing from body:\n%s", body)
	}
	if !strings.Contains(body, "event: usage") {
		t.Error("missing usage event")
	}
	lastEvent := body[strings.LastIndex(body, "event: "):]
	if !strings.HasPrefix(lastEvent, "event: end") {
		t.Errorf("last event = %q, want end", strings.SplitN(lastEvent, "\n", 2)[0])
	}

	// Vendor usage (12 + 3 tokens) is persisted.
	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := env.backend.GlobalStats(context.Background(), time.Now().Add(-time.Minute))
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.TotalRequests == 1 {
			if stats.TotalTokens != 15 {
				t.Errorf("recorded tokens = %d, want 15", stats.TotalTokens)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("usage record never written")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFeedbackStreamQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, 10)

	// The window starts empty, so the first request goes through even
	// though it will put 15 tokens on the books, past the limit of 10.
	rec := env.do(t, http.MethodPost, "/v1/feedback/stream",
		`{"submission":"a reasonably long submission text"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/feedback/stream",
		`{"submission":"another submission"}`, false)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), "try again after") {
		t.Errorf("body = %s, want retry hint", rec.Body.String())
	}
}

func TestFeedbackStreamUnknownModel(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodPost, "/v1/feedback/stream",
		`{"submission":"text","model":"missing"}`, false)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404; body %s", rec.Code, rec.Body.String())
	}
}

func TestFeedbackStreamEmptySubmission(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodPost, "/v1/feedback/stream", `{"submission":"  "}`, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	env := newTestEnv(t, 0)
	env.cfg.MaxRequestSize = 64

	big := strings.Repeat("x", 200)
	rec := env.do(t, http.MethodPost, "/v1/feedback/stream",
		fmt.Sprintf(`{"submission":%q}`, big), false)
	if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 413 (or 400 from the JSON binder)", rec.Code)
	}
}

func TestProviderConnectionProbe(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodPost, "/v1/management/providers/local/test", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !gjson.Get(rec.Body.String(), "data.ok").Bool() {
		t.Errorf("probe not ok: %s", rec.Body.String())
	}
}
