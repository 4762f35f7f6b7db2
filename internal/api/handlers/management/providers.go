package management

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/secret"
)

// probeTimeout bounds the live connectivity checks run on provider save and
// from the test endpoint.
const probeTimeout = 5 * time.Second

// ProviderView is the redacted representation returned by the API. The
// credential never leaves the server; only a mask of its tail is shown.
type ProviderView struct {
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Endpoint           string         `json:"endpoint,omitempty"`
	APIKey             string         `json:"api-key,omitempty"` // masked
	Config             map[string]any `json:"config,omitempty"`
	Enabled            bool           `json:"enabled"`
	TokenLimit         int64          `json:"token-limit"`
	TokenResetInterval string         `json:"token-reset-interval"`
	Models             []string       `json:"models,omitempty"`
}

func (h *Handler) providerView(p *config.Provider) ProviderView {
	// Mask the plaintext tail, not the ciphertext, so admins can recognize
	// which key is configured.
	plain, err := h.keeper.Decrypt(p.APIKey)
	if err != nil {
		plain = p.APIKey
	}
	view := ProviderView{
		Name:               p.Name,
		Type:               string(p.Type),
		Endpoint:           p.Endpoint,
		APIKey:             secret.Mask(plain),
		Config:             p.Config,
		Enabled:            p.IsEnabled(),
		TokenLimit:         p.TokenLimit,
		TokenResetInterval: p.ResetInterval().String(),
	}
	for _, m := range h.cfg.ModelsForProvider(p.Name) {
		view.Models = append(view.Models, m.Name)
	}
	return view
}

// ListProviders handles GET /v1/management/providers.
func (h *Handler) ListProviders(c *gin.Context) {
	views := make([]ProviderView, 0, len(h.cfg.Providers))
	for i := range h.cfg.Providers {
		views = append(views, h.providerView(&h.cfg.Providers[i]))
	}
	respondOK(c, views)
}

// GetProvider handles GET /v1/management/providers/:name.
func (h *Handler) GetProvider(c *gin.Context) {
	p := h.cfg.FindProvider(c.Param("name"))
	if p == nil {
		respondNotFound(c, "provider not found")
		return
	}
	respondOK(c, h.providerView(p))
}

// PutProvider handles PUT /v1/management/providers/:name. The body carries a
// provider record with a plaintext api-key; the key is encrypted before it
// touches the config file. An empty api-key keeps the stored one.
func (h *Handler) PutProvider(c *gin.Context) {
	var body config.Provider
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid provider payload: "+err.Error())
		return
	}
	body.Name = c.Param("name")

	existing := h.cfg.FindProvider(body.Name)
	if body.APIKey == "" && existing != nil {
		body.APIKey = existing.APIKey
	}
	encrypted, err := h.keeper.Encrypt(body.APIKey)
	if err != nil {
		respondInternalError(c, "failed to encrypt credential")
		return
	}
	body.APIKey = encrypted

	// Reject records the backend schema cannot use before anything is saved.
	client, err := h.registry.Build(&body)
	if err != nil {
		respondError(c, 400, ErrCodeInvalidConfig, err.Error())
		return
	}

	candidate := h.cfg.Clone()
	candidate.UpsertProvider(body)
	if err := candidate.Validate(); err != nil {
		respondError(c, 400, ErrCodeInvalidConfig, err.Error())
		return
	}

	// An unreachable backend is rejected before it is saved, same probe as
	// the test endpoint.
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()
	if ok, message := client.TestConnection(ctx, ""); !ok {
		respondError(c, 400, ErrCodeInvalidConfig, "connection probe failed: "+message)
		return
	}

	h.cfg.UpsertProvider(body)
	if err := h.persist(); err != nil {
		respondError(c, 500, ErrCodeWriteFailed, err.Error())
		return
	}
	respondOK(c, h.providerView(h.cfg.FindProvider(body.Name)))
}

// DeleteProvider handles DELETE /v1/management/providers/:name. Providers
// that still own models are protected.
func (h *Handler) DeleteProvider(c *gin.Context) {
	name := c.Param("name")
	if h.cfg.FindProvider(name) == nil {
		respondNotFound(c, "provider not found")
		return
	}
	if err := h.cfg.RemoveProvider(name); err != nil {
		respondConflict(c, err.Error())
		return
	}
	if err := h.persist(); err != nil {
		respondError(c, 500, ErrCodeWriteFailed, err.Error())
		return
	}
	respondOK(c, gin.H{"deleted": name})
}

// ListProviderModels handles GET /v1/management/providers/:name/models.
func (h *Handler) ListProviderModels(c *gin.Context) {
	p := h.cfg.FindProvider(c.Param("name"))
	if p == nil {
		respondNotFound(c, "provider not found")
		return
	}
	names := make([]string, 0, 4)
	for _, m := range h.cfg.ModelsForProvider(p.Name) {
		names = append(names, m.Name)
	}
	respondOK(c, names)
}

// TestProviderRequest optionally overrides the model probed and may carry a
// full candidate provider record to probe without persisting it.
type TestProviderRequest struct {
	config.Provider
	Model string `json:"model"`
}

// TestProviderResponse reports the probe outcome.
type TestProviderResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// TestProvider handles POST /v1/management/providers/:name/test. It builds a
// live client and probes the backend without persisting anything. The body
// may carry an unsaved candidate record (type set), which replaces the
// stored one for the probe; a candidate without a credential borrows the
// stored credential so the key does not have to be re-entered.
func (h *Handler) TestProvider(c *gin.Context) {
	stored := h.cfg.FindProvider(c.Param("name"))

	var body TestProviderRequest
	_ = c.ShouldBindJSON(&body) // body is optional

	p := stored
	if body.Type != "" {
		candidate := body.Provider
		candidate.Name = c.Param("name")
		if candidate.APIKey == "" && stored != nil {
			candidate.APIKey = stored.APIKey
		}
		p = &candidate
	}
	if p == nil {
		respondNotFound(c, "provider not found")
		return
	}

	client, err := h.registry.Build(p)
	if err != nil {
		respondOK(c, TestProviderResponse{OK: false, Message: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()
	ok, message := client.TestConnection(ctx, body.Model)
	respondOK(c, TestProviderResponse{OK: ok, Message: message})
}
