// Package stream orchestrates one feedback request end to end: resolve the
// model and provider, enforce the provider's token quota, stream fragments
// from the backend, and account for the tokens spent.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/provider"
	"github.com/hwendt/llmgate/internal/quota"
	"github.com/hwendt/llmgate/internal/usage"
)

// eventBuffer bounds how far the producer may run ahead of a slow consumer.
const eventBuffer = 8

// FeedbackRequest is one submission to give feedback on.
type FeedbackRequest struct {
	Submission      string `json:"submission"`
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description"`
	TaskContext     string `json:"task_context"`
	CourseName      string `json:"course_name"`
	CourseContext   string `json:"course_context"`

	// PromptTemplate overrides the default system prompt. Placeholders are
	// expanded from the fields above.
	PromptTemplate string `json:"prompt_template"`

	// Model selects a configured model by name. Empty uses the default.
	Model string `json:"model"`
}

// EventType discriminates stream events.
type EventType string

const (
	EventDelta EventType = "delta"
	EventUsage EventType = "usage"
	EventError EventType = "error"
	EventEnd   EventType = "end"
)

// Event is one item on the stream returned to the requester.
type Event struct {
	Type  EventType             `json:"type"`
	Delta string                `json:"delta,omitempty"`
	Usage *provider.UsageReport `json:"usage,omitempty"`
	Error string                `json:"error,omitempty"`
}

// Setup errors callers may want to distinguish for status mapping.
var (
	ErrUnknownModel = errors.New("unknown model")
	ErrNoModels     = errors.New("no models configured")
)

// QuotaExceededError is returned before any streaming starts when the
// provider's window has no room for the request.
type QuotaExceededError struct {
	Provider   string
	RetryAfter time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("token quota for provider %q exhausted, try again after %s",
		e.Provider, e.RetryAfter.UTC().Format(time.RFC3339))
}

// Recorder persists one usage record per stream. usage.Backend satisfies it.
type Recorder interface {
	Insert(ctx context.Context, record usage.Record) error
}

// Orchestrator wires resolution, quota, streaming and accounting together.
type Orchestrator struct {
	cfg      *config.Config
	registry *provider.Registry
	tracker  *quota.Tracker
	recorder Recorder
}

func NewOrchestrator(cfg *config.Config, registry *provider.Registry, tracker *quota.Tracker, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		recorder: recorder,
	}
}

// resolve picks the model and provider for a request.
func (o *Orchestrator) resolve(req FeedbackRequest) (*config.Model, *config.Provider, error) {
	var model *config.Model
	if req.Model != "" {
		model = o.cfg.FindModel(req.Model)
		if model == nil {
			return nil, nil, fmt.Errorf("%w %q", ErrUnknownModel, req.Model)
		}
	} else {
		model = o.cfg.DefaultModel()
		if model == nil {
			return nil, nil, ErrNoModels
		}
	}
	if !model.IsEnabled() {
		return nil, nil, fmt.Errorf("model %q is disabled", model.Name)
	}
	prov := o.cfg.FindProvider(model.Provider)
	if prov == nil {
		return nil, nil, fmt.Errorf("model %q references unknown provider %q", model.Name, model.Provider)
	}
	if !prov.IsEnabled() {
		return nil, nil, fmt.Errorf("provider %q is disabled", prov.Name)
	}
	return model, prov, nil
}

// Stream checks quota and starts streaming feedback. The returned channel is
// closed after the terminal end event. Setup failures (unknown model,
// exhausted quota, unreachable provider config) are returned as errors before
// any event is produced; failures after that surface as an error event on the
// channel.
//
// Cancelling ctx abandons the stream: the producer stops, the upstream
// request is torn down, and whatever usage is known by then is still
// recorded.
func (o *Orchestrator) Stream(ctx context.Context, req FeedbackRequest) (<-chan Event, error) {
	model, prov, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	systemPrompt := RenderPrompt(req.PromptTemplate, req)

	// The gate looks only at tokens already consumed in the window. The
	// request that crosses the limit still completes; the next one is
	// refused.
	exceeded, status, err := o.tracker.WouldExceed(ctx, prov, 0)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if exceeded {
		return nil, &QuotaExceededError{Provider: prov.Name, RetryAfter: status.WindowEnd}
	}

	client, err := o.registry.ClientFor(prov)
	if err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	logging.WithField("stream", streamID).Debugf("Streaming %s via provider %s", model.Name, prov.Name)

	events := make(chan Event, eventBuffer)
	go o.produce(ctx, events, client, prov, model, systemPrompt, req, streamID)
	return events, nil
}

func (o *Orchestrator) produce(ctx context.Context, events chan<- Event, client provider.Client,
	prov *config.Provider, model *config.Model, systemPrompt string, req FeedbackRequest, streamID string) {
	defer close(events)

	requestedAt := time.Now()
	var report provider.UsageReport
	failed := false

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for fragment, err := range client.Stream(ctx, provider.Request{
		Model:        model.ExternalName,
		SystemPrompt: systemPrompt,
		UserInput:    req.Submission,
		Params:       model.DefaultParams,
		OnUsage:      func(r provider.UsageReport) { report = r },
	}) {
		if err != nil {
			failed = true
			logging.WithError(err).WithField("stream", streamID).Errorf("Stream from provider %s failed", prov.Name)
			send(Event{Type: EventError, Error: err.Error()})
			break
		}
		if !send(Event{Type: EventDelta, Delta: fragment}) {
			failed = true
			break
		}
	}

	o.record(prov, model, requestedAt, report, failed)

	// send is a no-op once the requester is gone.
	send(Event{Type: EventUsage, Usage: &report})
	send(Event{Type: EventEnd})
}

// record persists the stream's usage. Persistence is best effort: a failure
// is logged and the response is unaffected. A fresh context is used so an
// abandoned request still gets accounted.
func (o *Orchestrator) record(prov *config.Provider, model *config.Model, requestedAt time.Time,
	report provider.UsageReport, failed bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.recorder.Insert(ctx, usage.Record{
		Provider:         prov.Name,
		Model:            model.Name,
		RequestedAt:      requestedAt,
		Failed:           failed,
		Estimated:        report.Estimated,
		SystemTokens:     report.SystemTokens,
		UserTokens:       report.UserTokens,
		CompletionTokens: report.CompletionTokens,
		TotalTokens:      report.TotalTokens(),
		Duration:         report.Duration,
	})
	if err != nil {
		logging.WithError(err).Errorf("Failed to persist usage record for provider %s", prov.Name)
	}
}
