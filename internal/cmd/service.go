// Package cmd assembles and runs the llmgate service.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hwendt/llmgate/internal/api"
	"github.com/hwendt/llmgate/internal/cli/env"
	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/provider"
	"github.com/hwendt/llmgate/internal/quota"
	"github.com/hwendt/llmgate/internal/secret"
	"github.com/hwendt/llmgate/internal/stream"
	"github.com/hwendt/llmgate/internal/usage"
	"github.com/hwendt/llmgate/internal/watcher"
)

// StartService wires the components together and serves until interrupted.
func StartService(cfg *config.Config, configPath string) {
	keeper, err := buildKeeper(configPath)
	if err != nil {
		logging.Fatalf("Failed to initialize credential store: %v", err)
	}

	est := provider.NewEstimator(cfg.Usage.Estimator, cfg.Locale, cfg.Usage.CharsPerToken)

	// Without a usage DSN nothing is persisted and quota limits cannot be
	// enforced; the stream path runs against a no-op backend.
	backend := usage.NewNopBackend()
	persisted := cfg.Usage.DSN != ""
	if persisted {
		backend, err = usage.NewBackend(usage.BackendConfig{
			DSN:           cfg.Usage.DSN,
			RetentionDays: cfg.Usage.RetentionDays,
		})
		if err != nil {
			logging.Fatalf("Failed to initialize usage backend: %v", err)
		}
		if err := backend.Start(); err != nil {
			logging.Fatalf("Failed to start usage backend: %v", err)
		}
		logging.Infof("Usage backend initialized")
	} else {
		logging.Warnf("No usage DSN configured; usage accounting and token quotas are disabled")
	}

	tracker := quota.NewTracker(backend)
	registry := provider.NewRegistry(keeper, est)
	orch := stream.NewOrchestrator(cfg, registry, tracker, backend)

	deps := api.Dependencies{
		Config:       cfg,
		ConfigPath:   configPath,
		Keeper:       keeper,
		Registry:     registry,
		Orchestrator: orch,
	}
	if persisted {
		deps.Tracker = tracker
		deps.Backend = backend
	}
	router := api.NewRouter(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(configPath, cfg,
		registry.Reset,
		func() { logging.SetDebug(cfg.Debug) },
	)
	if err := w.Start(ctx); err != nil {
		logging.WithError(err).Warnf("Config hot reload unavailable")
	}

	srv := api.NewServer(cfg.Port, router)
	if err := srv.Run(ctx); err != nil {
		logging.WithError(err).Errorf("Server exited with error")
	}

	if err := backend.Stop(); err != nil {
		logging.WithError(err).Warnf("Usage backend shutdown failed")
	}
}

// buildKeeper prefers an env-supplied fernet key (containers without a
// persistent config volume), falling back to a key file next to the config.
func buildKeeper(configPath string) (*secret.Keeper, error) {
	if encoded, ok := env.LookupEnv("LLMGATE_SECRET_KEY"); ok {
		return secret.NewKeeperFromKey(encoded)
	}
	return secret.NewKeeper(filepath.Dir(configPath))
}
