package provider

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/hwendt/llmgate/internal/json"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/resilience"
)

// AzureAIClient streams chat completions from the Azure AI model inference
// API (serverless endpoints, GitHub Models). Unlike Azure OpenAI the model
// is named in the request body, not the URL.
type AzureAIClient struct {
	cfg  *AzureAIConfig
	http *http.Client
	est  Estimator
	exec *resilience.Executor[*http.Response]
}

func NewAzureAIClient(cfg *AzureAIConfig, est Estimator) *AzureAIClient {
	breaker := resilience.DefaultBreakerConfig("azure-ai:" + cfg.Endpoint)
	return &AzureAIClient{
		cfg:  cfg,
		http: newHTTPClient(cfg.RequestTimeout, true),
		est:  est,
		exec: resilience.NewExecutor[*http.Response](
			resilience.NewStreamRetryPolicy(resilience.DefaultRetryConfig), &breaker),
	}
}

func (c *AzureAIClient) ListModels() []string {
	return c.cfg.ModelNames
}

type azureAIChatRequest struct {
	Model            string               `json:"model"`
	Messages         []openAIMessage      `json:"messages"`
	MaxTokens        int                  `json:"max_tokens"`
	Temperature      float64              `json:"temperature"`
	TopP             float64              `json:"top_p"`
	PresencePenalty  float64              `json:"presence_penalty"`
	FrequencyPenalty float64              `json:"frequency_penalty"`
	Stream           bool                 `json:"stream"`
	StreamOptions    *openAIStreamOptions `json:"stream_options,omitempty"`
}

func (c *AzureAIClient) completionsURL() string {
	return fmt.Sprintf("%s/chat/completions?api-version=%s",
		c.cfg.Endpoint, url.QueryEscape(c.cfg.APIVersion))
}

func (c *AzureAIClient) buildPayload(req Request, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserInput})

	body := azureAIChatRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		PresencePenalty:  c.cfg.PresencePenalty,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		Stream:           stream,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("azure-ai: encode request: %w", err)
	}
	return applyDefaultParams(payload, req.Params), nil
}

func (c *AzureAIClient) open(ctx context.Context, payload []byte) (*http.Response, error) {
	return c.exec.Execute(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.completionsURL(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("api-key", c.cfg.APIKey)
		return c.http.Do(httpReq)
	})
}

func (c *AzureAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		fin := newUsageFinisher(c.est)
		defer func() {
			if req.OnUsage != nil {
				req.OnUsage(fin.finish(req.SystemPrompt, req.UserInput))
			}
		}()

		payload, err := c.buildPayload(req, true)
		if err != nil {
			yield("", err)
			return
		}
		resp, err := c.open(ctx, payload)
		if err != nil {
			yield("", fmt.Errorf("azure-ai: request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			yield("", upstreamError("azure-ai", resp))
			return
		}

		err = sseDataLines(resp.Body, func(data string) bool {
			if !gjson.Valid(data) {
				logging.Debugf("azure-ai: skipping malformed chunk: %.80s", data)
				return true
			}
			chunk := gjson.Parse(data)
			if usage := chunk.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
				fin.setPromptTokens(usage.Get("prompt_tokens").Int())
				fin.setCompletionTokens(usage.Get("completion_tokens").Int())
			}
			if content := chunk.Get("choices.0.delta.content").String(); content != "" {
				fin.observeOutput(content)
				return yield(content, nil)
			}
			return true
		})
		if err != nil {
			yield("", fmt.Errorf("azure-ai: stream interrupted: %w", err))
		}
	}
}

// TestConnection issues a minimal non-streaming completion.
func (c *AzureAIClient) TestConnection(ctx context.Context, modelOverride string) (bool, string) {
	model := modelOverride
	if model == "" {
		model = c.cfg.DefaultModel
	}
	payload, err := c.buildPayload(Request{UserInput: "ping", Model: model}, false)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.open(ctx, probePayload(payload))
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, upstreamError("azure-ai", resp).Error()
	}
	return true, fmt.Sprintf("connected, model %q responded", model)
}
