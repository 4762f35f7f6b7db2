package management

import (
	"github.com/gin-gonic/gin"

	"github.com/hwendt/llmgate/internal/config"
)

// ModelView is the API representation of a configured model.
type ModelView struct {
	Name          string         `json:"name"`
	Provider      string         `json:"provider"`
	ExternalName  string         `json:"external-name"`
	DefaultParams map[string]any `json:"default-params,omitempty"`
	IsDefault     bool           `json:"is-default"`
	Enabled       bool           `json:"enabled"`
	DisplayName   string         `json:"display-name"`
}

func modelView(m *config.Model) ModelView {
	return ModelView{
		Name:          m.Name,
		Provider:      m.Provider,
		ExternalName:  m.ExternalName,
		DefaultParams: m.DefaultParams,
		IsDefault:     m.IsDefault,
		Enabled:       m.IsEnabled(),
		DisplayName:   m.DisplayName(),
	}
}

// ListModels handles GET /v1/management/models.
func (h *Handler) ListModels(c *gin.Context) {
	views := make([]ModelView, 0, len(h.cfg.Models))
	for i := range h.cfg.Models {
		views = append(views, modelView(&h.cfg.Models[i]))
	}
	respondOK(c, views)
}

// GetModel handles GET /v1/management/models/:name.
func (h *Handler) GetModel(c *gin.Context) {
	m := h.cfg.FindModel(c.Param("name"))
	if m == nil {
		respondNotFound(c, "model not found")
		return
	}
	respondOK(c, modelView(m))
}

// PutModel handles PUT /v1/management/models/:name. Saving a model with
// is-default=true clears the flag on all other models.
func (h *Handler) PutModel(c *gin.Context) {
	var body config.Model
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid model payload: "+err.Error())
		return
	}
	body.Name = c.Param("name")

	candidate := h.cfg.Clone()
	candidate.UpsertModel(body)
	if err := candidate.Validate(); err != nil {
		respondError(c, 400, ErrCodeInvalidConfig, err.Error())
		return
	}

	h.cfg.UpsertModel(body)
	if err := h.persist(); err != nil {
		respondError(c, 500, ErrCodeWriteFailed, err.Error())
		return
	}
	respondOK(c, modelView(h.cfg.FindModel(body.Name)))
}

// DeleteModel handles DELETE /v1/management/models/:name.
func (h *Handler) DeleteModel(c *gin.Context) {
	name := c.Param("name")
	if !h.cfg.RemoveModel(name) {
		respondNotFound(c, "model not found")
		return
	}
	if err := h.persist(); err != nil {
		respondError(c, 500, ErrCodeWriteFailed, err.Error())
		return
	}
	respondOK(c, gin.H{"deleted": name})
}
