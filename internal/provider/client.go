package provider

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Request describes one completion to stream from a backend.
type Request struct {
	// Model is the upstream model or deployment name. Empty selects the
	// backend's configured default.
	Model        string
	SystemPrompt string
	UserInput    string
	// Params are per-model default parameters merged into the wire payload.
	// A param is only applied when the payload does not already set it.
	Params map[string]any
	// OnUsage is invoked exactly once after the stream is drained, whether
	// it ended normally or with an error. May be nil.
	OnUsage UsageCallback
}

// Client is a streaming connection to one upstream LLM backend.
//
// Stream yields text fragments as they arrive. A non-nil error is terminal:
// it is yielded at most once, as the final pair, and carries a message safe
// to show to the requester. Callers stop consuming to abandon the stream;
// cancelling ctx tears down the upstream request.
type Client interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
	TestConnection(ctx context.Context, modelOverride string) (bool, string)
	ListModels() []string
}

// newHTTPClient builds the transport for a backend. Timeout covers the whole
// exchange including body streaming, matching the per-provider
// request_timeout semantics.
func newHTTPClient(timeoutSeconds int, verifySSL bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
		Transport: transport,
	}
}

// applyDefaultParams merges model default_params into a JSON payload.
// Existing payload values win; params never override what the backend
// config already set.
func applyDefaultParams(payload []byte, params map[string]any) []byte {
	out := payload
	for key, value := range params {
		path := strings.TrimSpace(key)
		if path == "" {
			continue
		}
		if gjson.GetBytes(out, path).Exists() {
			continue
		}
		updated, err := sjson.SetBytes(out, path, value)
		if err != nil {
			continue
		}
		out = updated
	}
	return out
}

// probePayload caps the completion at a single token so a connection probe
// costs as close to nothing as the backend allows.
func probePayload(payload []byte) []byte {
	out, err := sjson.SetBytes(payload, "max_tokens", 1)
	if err != nil {
		return payload
	}
	return out
}

// sseDataLines scans a text/event-stream body and yields the payload of each
// data: line. Blank lines and comment lines are skipped; the OpenAI-style
// [DONE] sentinel terminates the scan.
func sseDataLines(body io.Reader, yield func(data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		if !yield(data) {
			return nil
		}
	}
	return scanner.Err()
}

// upstreamError extracts a short, requester-safe message from a non-2xx
// upstream response.
func upstreamError(backend string, resp *http.Response) error {
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := gjson.GetBytes(snippet, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(snippet, "error").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(snippet))
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	if msg == "" {
		return fmt.Errorf("%s: upstream returned HTTP %d", backend, resp.StatusCode)
	}
	return fmt.Errorf("%s: upstream returned HTTP %d: %s", backend, resp.StatusCode, msg)
}

// usageFinisher assembles the report passed to Request.OnUsage. Vendor token
// counts win when present; anything missing is filled from the estimator and
// the report is flagged as estimated. Duration is always measured locally
// unless the vendor supplied one.
type usageFinisher struct {
	est     Estimator
	started time.Time

	vendor  UsageReport
	hasSys  bool
	hasComp bool

	output strings.Builder
}

func newUsageFinisher(est Estimator) *usageFinisher {
	return &usageFinisher{est: est, started: time.Now()}
}

func (u *usageFinisher) observeOutput(fragment string) {
	u.output.WriteString(fragment)
}

func (u *usageFinisher) setPromptTokens(n int64) {
	if n > 0 {
		u.vendor.SystemTokens = n
		u.hasSys = true
	}
}

func (u *usageFinisher) setCompletionTokens(n int64) {
	if n > 0 {
		u.vendor.CompletionTokens = n
		u.hasComp = true
	}
}

func (u *usageFinisher) setDuration(d time.Duration) {
	if d > 0 {
		u.vendor.Duration = d
	}
}

func (u *usageFinisher) finish(systemPrompt, userInput string) UsageReport {
	report := u.vendor
	if !u.hasSys {
		report.SystemTokens = int64(u.est.Estimate(systemPrompt))
		report.UserTokens = int64(u.est.Estimate(userInput))
		report.Estimated = true
	}
	if !u.hasComp {
		report.CompletionTokens = int64(u.est.Estimate(u.output.String()))
		report.Estimated = true
	}
	if report.Duration == 0 {
		report.Duration = time.Since(u.started)
	}
	return report
}
