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

// AzureOpenAIClient streams chat completions from an Azure OpenAI deployment
// over SSE.
type AzureOpenAIClient struct {
	cfg  *AzureOpenAIConfig
	http *http.Client
	est  Estimator
	exec *resilience.Executor[*http.Response]
}

func NewAzureOpenAIClient(cfg *AzureOpenAIConfig, est Estimator) *AzureOpenAIClient {
	breaker := resilience.DefaultBreakerConfig("azure-openai:" + cfg.Endpoint)
	return &AzureOpenAIClient{
		cfg:  cfg,
		http: newHTTPClient(cfg.RequestTimeout, true),
		est:  est,
		exec: resilience.NewExecutor[*http.Response](
			resilience.NewStreamRetryPolicy(resilience.DefaultRetryConfig), &breaker),
	}
}

func (c *AzureOpenAIClient) ListModels() []string {
	return c.cfg.ModelNames
}

type openAIChatRequest struct {
	Messages      []openAIMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens"`
	Temperature   float64              `json:"temperature"`
	TopP          float64              `json:"top_p"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (c *AzureOpenAIClient) deploymentURL(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(deployment), url.QueryEscape(c.cfg.APIVersion))
}

func (c *AzureOpenAIClient) buildPayload(req Request, stream bool) ([]byte, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserInput})

	body := openAIChatRequest{
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("azure-openai: encode request: %w", err)
	}
	return applyDefaultParams(payload, req.Params), nil
}

func (c *AzureOpenAIClient) open(ctx context.Context, deployment string, payload []byte) (*http.Response, error) {
	return c.exec.Execute(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.deploymentURL(deployment), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("api-key", c.cfg.APIKey)
		return c.http.Do(httpReq)
	})
}

func (c *AzureOpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		fin := newUsageFinisher(c.est)
		defer func() {
			if req.OnUsage != nil {
				req.OnUsage(fin.finish(req.SystemPrompt, req.UserInput))
			}
		}()

		deployment := req.Model
		if deployment == "" {
			deployment = c.cfg.DefaultModel
		}
		payload, err := c.buildPayload(req, true)
		if err != nil {
			yield("", err)
			return
		}
		resp, err := c.open(ctx, deployment, payload)
		if err != nil {
			yield("", fmt.Errorf("azure-openai: request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			yield("", c.classifyError(deployment, resp))
			return
		}

		err = sseDataLines(resp.Body, func(data string) bool {
			if !gjson.Valid(data) {
				logging.Debugf("azure-openai: skipping malformed chunk: %.80s", data)
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
			yield("", fmt.Errorf("azure-openai: stream interrupted: %w", err))
		}
	}
}

// classifyError turns a non-2xx response into a requester-safe error. A 404
// with code DeploymentNotFound almost always means the configured deployment
// name does not exist on the resource, so say so.
func (c *AzureOpenAIClient) classifyError(deployment string, resp *http.Response) error {
	err := upstreamError("azure-openai", resp)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("azure-openai: deployment %q not found on %s (check the deployment name): %w",
			deployment, c.cfg.Endpoint, err)
	}
	return err
}

// TestConnection issues a minimal non-streaming completion against the
// deployment.
func (c *AzureOpenAIClient) TestConnection(ctx context.Context, modelOverride string) (bool, string) {
	deployment := modelOverride
	if deployment == "" {
		deployment = c.cfg.DefaultModel
	}
	payload, err := c.buildPayload(Request{UserInput: "ping", Model: deployment}, false)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.open(ctx, deployment, probePayload(payload))
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, c.classifyError(deployment, resp).Error()
	}
	return true, fmt.Sprintf("connected, deployment %q responded", deployment)
}
