package management

import (
	"fmt"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/provider"
	"github.com/hwendt/llmgate/internal/quota"
	"github.com/hwendt/llmgate/internal/secret"
	"github.com/hwendt/llmgate/internal/usage"
)

// Handler serves the management API. The usage backend and quota tracker are
// nil when no usage DSN is configured; the affected endpoints degrade
// gracefully.
type Handler struct {
	cfg        *config.Config
	configPath string
	keeper     *secret.Keeper
	registry   *provider.Registry
	tracker    *quota.Tracker
	backend    usage.Backend
}

func NewHandler(cfg *config.Config, configPath string, keeper *secret.Keeper,
	registry *provider.Registry, tracker *quota.Tracker, backend usage.Backend) *Handler {
	return &Handler{
		cfg:        cfg,
		configPath: configPath,
		keeper:     keeper,
		registry:   registry,
		tracker:    tracker,
		backend:    backend,
	}
}

// persist writes the config to disk and drops cached clients so the next
// request sees the new state.
func (h *Handler) persist() error {
	if err := h.cfg.Save(h.configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	h.registry.Reset()
	logging.Infof("Configuration saved to %s", h.configPath)
	return nil
}
