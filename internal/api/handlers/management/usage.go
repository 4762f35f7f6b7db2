package management

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/usage"
)

const defaultUsageDays = 30

// GetUsage handles GET /v1/management/usage?days=N. Partial query failures
// are logged and leave the affected section empty rather than failing the
// whole response.
func (h *Handler) GetUsage(c *gin.Context) {
	if h.backend == nil {
		respondOK(c, usage.Snapshot{})
		return
	}

	days := defaultUsageDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			respondBadRequest(c, "days must be an integer between 1 and 365")
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	ctx := c.Request.Context()

	var snap usage.Snapshot
	if stats, err := h.backend.GlobalStats(ctx, since); err != nil {
		logging.WithError(err).Warnf("Failed to query global usage statistics")
	} else {
		snap.TotalRequests = stats.TotalRequests
		snap.SuccessCount = stats.SuccessCount
		snap.FailureCount = stats.FailureCount
		snap.TotalTokens = stats.TotalTokens
		snap.EstimatedCnt = stats.EstimatedCnt
	}

	if daily, err := h.backend.DailyStats(ctx, since); err != nil {
		logging.WithError(err).Warnf("Failed to query daily usage statistics")
	} else if len(daily) > 0 {
		snap.RequestsByDay = make(map[string]int64, len(daily))
		snap.TokensByDay = make(map[string]int64, len(daily))
		for _, d := range daily {
			snap.RequestsByDay[d.Day] = d.Requests
			snap.TokensByDay[d.Day] = d.Tokens
		}
	}

	if providers, err := h.backend.ProviderStats(ctx, since); err != nil {
		logging.WithError(err).Warnf("Failed to query per-provider usage statistics")
	} else {
		snap.Providers = providers
	}

	respondOK(c, snap)
}
