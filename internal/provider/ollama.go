package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hwendt/llmgate/internal/json"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/resilience"
)

// OllamaClient streams chat completions from an Ollama server using the
// NDJSON /api/chat endpoint.
type OllamaClient struct {
	cfg  *OllamaConfig
	http *http.Client
	est  Estimator
	exec *resilience.Executor[*http.Response]
}

func NewOllamaClient(cfg *OllamaConfig, est Estimator) *OllamaClient {
	breaker := resilience.DefaultBreakerConfig("ollama:" + cfg.Host)
	return &OllamaClient{
		cfg:  cfg,
		http: newHTTPClient(cfg.RequestTimeout, cfg.VerifySSL),
		est:  est,
		exec: resilience.NewExecutor[*http.Response](
			resilience.NewStreamRetryPolicy(resilience.DefaultRetryConfig), &breaker),
	}
}

func (c *OllamaClient) ListModels() []string {
	return c.cfg.ModelNames
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

func (c *OllamaClient) buildPayload(req Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	messages := make([]ollamaMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.UserInput})

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options: ollamaOptions{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}
	return applyDefaultParams(payload, req.Params), nil
}

func (c *OllamaClient) open(ctx context.Context, payload []byte) (*http.Response, error) {
	return c.exec.Execute(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.Host+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.AuthToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
		return c.http.Do(httpReq)
	})
}

// Stream yields content fragments from the NDJSON response. Lines that fail
// to parse are skipped. The final done:true line carries vendor token counts
// and the total duration in nanoseconds.
func (c *OllamaClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		fin := newUsageFinisher(c.est)
		defer func() {
			if req.OnUsage != nil {
				req.OnUsage(fin.finish(req.SystemPrompt, req.UserInput))
			}
		}()

		payload, err := c.buildPayload(req)
		if err != nil {
			yield("", err)
			return
		}
		resp, err := c.open(ctx, payload)
		if err != nil {
			yield("", fmt.Errorf("ollama: request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			yield("", upstreamError("ollama", resp))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !gjson.ValidBytes(line) {
				logging.Debugf("ollama: skipping malformed chunk: %.80s", line)
				continue
			}
			chunk := gjson.ParseBytes(line)
			if content := chunk.Get("message.content").String(); content != "" {
				fin.observeOutput(content)
				if !yield(content, nil) {
					return
				}
			}
			if chunk.Get("done").Bool() {
				fin.setPromptTokens(chunk.Get("prompt_eval_count").Int())
				fin.setCompletionTokens(chunk.Get("eval_count").Int())
				fin.setDuration(time.Duration(chunk.Get("total_duration").Int()))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("ollama: stream interrupted: %w", err))
		}
	}
}

// TestConnection lists the server's installed models. When a model name is
// given, it additionally checks that the model is present.
func (c *OllamaClient) TestConnection(ctx context.Context, modelOverride string) (bool, string) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false, err.Error()
	}
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, upstreamError("ollama", resp).Error()
	}

	model := modelOverride
	if model == "" {
		model = c.cfg.DefaultModel
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return false, fmt.Sprintf("read models: %v", err)
	}
	names := make([]string, 0)
	gjson.GetBytes(buf.Bytes(), "models.#.name").ForEach(func(_, v gjson.Result) bool {
		names = append(names, v.String())
		return true
	})
	for _, name := range names {
		if strings.EqualFold(name, model) {
			return true, fmt.Sprintf("connected, model %q available", model)
		}
	}
	return true, fmt.Sprintf("connected, but model %q not found (%d models installed)", model, len(names))
}
