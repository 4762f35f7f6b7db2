// Package feedback serves the streaming feedback endpoint.
package feedback

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwendt/llmgate/internal/json"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/sseutil"
	"github.com/hwendt/llmgate/internal/stream"
)

// Handler serves POST /v1/feedback/stream.
type Handler struct {
	orch *stream.Orchestrator
}

func NewHandler(orch *stream.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

type errorBody struct {
	Error string `json:"error"`
}

// Stream validates the request, opens the provider stream and relays its
// events as SSE. Setup failures are reported as plain JSON with a matching
// status code; once the SSE response has started, failures arrive as error
// events on the stream itself.
func (h *Handler) Stream(c *gin.Context) {
	var req stream.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request payload: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Submission) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "submission must not be empty"})
		return
	}

	events, err := h.orch.Stream(c.Request.Context(), req)
	if err != nil {
		h.setupError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			logging.WithError(err).Errorf("Failed to encode stream event")
			continue
		}
		if err := sseutil.WriteEvent(c.Writer, string(ev.Type), string(payload)); err != nil {
			// Client went away; the orchestrator notices via the request
			// context and winds down on its own.
			return
		}
		c.Writer.Flush()
	}
}

func (h *Handler) setupError(c *gin.Context, err error) {
	var quotaErr *stream.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		retryAfter := max(int64(time.Until(quotaErr.RetryAfter).Seconds()), 0)
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.JSON(http.StatusTooManyRequests, errorBody{Error: err.Error()})
	case errors.Is(err, stream.ErrUnknownModel):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, stream.ErrNoModels):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
}
