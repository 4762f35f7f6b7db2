package management

import (
	"github.com/gin-gonic/gin"

	"github.com/hwendt/llmgate/internal/quota"
)

// GetProviderQuota handles GET /v1/management/providers/:name/quota.
func (h *Handler) GetProviderQuota(c *gin.Context) {
	p := h.cfg.FindProvider(c.Param("name"))
	if p == nil {
		respondNotFound(c, "provider not found")
		return
	}
	if h.tracker == nil {
		// Without a usage backend nothing is counted, so every provider is
		// effectively unlimited.
		respondOK(c, quota.Status{Provider: p.Name, Unlimited: true, Remaining: -1})
		return
	}
	status, err := h.tracker.Status(c.Request.Context(), p)
	if err != nil {
		respondInternalError(c, err.Error())
		return
	}
	respondOK(c, status)
}

// ResetAllQuotas handles POST /v1/management/quota/reset. Every configured
// provider gets a fresh window.
func (h *Handler) ResetAllQuotas(c *gin.Context) {
	if h.tracker == nil {
		respondConflict(c, "usage tracking is not configured")
		return
	}
	statuses := make([]quota.Status, 0, len(h.cfg.Providers))
	for i := range h.cfg.Providers {
		p := &h.cfg.Providers[i]
		if err := h.tracker.ResetNow(c.Request.Context(), p); err != nil {
			respondInternalError(c, err.Error())
			return
		}
		status, err := h.tracker.Status(c.Request.Context(), p)
		if err != nil {
			respondInternalError(c, err.Error())
			return
		}
		statuses = append(statuses, status)
	}
	respondOK(c, statuses)
}

// ResetProviderQuota handles POST /v1/management/providers/:name/quota/reset.
func (h *Handler) ResetProviderQuota(c *gin.Context) {
	p := h.cfg.FindProvider(c.Param("name"))
	if p == nil {
		respondNotFound(c, "provider not found")
		return
	}
	if h.tracker == nil {
		respondConflict(c, "usage tracking is not configured")
		return
	}
	if err := h.tracker.ResetNow(c.Request.Context(), p); err != nil {
		respondInternalError(c, err.Error())
		return
	}
	status, err := h.tracker.Status(c.Request.Context(), p)
	if err != nil {
		respondInternalError(c, err.Error())
		return
	}
	respondOK(c, status)
}
