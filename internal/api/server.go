// Package api assembles the HTTP surface: the streaming feedback endpoint
// and the key-protected management API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/hwendt/llmgate/internal/api/handlers/feedback"
	"github.com/hwendt/llmgate/internal/api/handlers/management"
	"github.com/hwendt/llmgate/internal/api/middleware"
	"github.com/hwendt/llmgate/internal/buildinfo"
	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/provider"
	"github.com/hwendt/llmgate/internal/quota"
	"github.com/hwendt/llmgate/internal/secret"
	"github.com/hwendt/llmgate/internal/stream"
	"github.com/hwendt/llmgate/internal/usage"
)

// Dependencies carries everything the router needs. Tracker and Backend may
// be nil when usage persistence is disabled.
type Dependencies struct {
	Config       *config.Config
	ConfigPath   string
	Keeper       *secret.Keeper
	Registry     *provider.Registry
	Orchestrator *stream.Orchestrator
	Tracker      *quota.Tracker
	Backend      usage.Backend
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version})
	})

	fb := feedback.NewHandler(deps.Orchestrator)
	v1 := engine.Group("/v1")
	v1.POST("/feedback/stream",
		middleware.RequestSizeLimit(func() int64 { return deps.Config.MaxRequestSize }),
		fb.Stream)

	mgmt := management.NewHandler(deps.Config, deps.ConfigPath, deps.Keeper,
		deps.Registry, deps.Tracker, deps.Backend)
	m := v1.Group("/management", middleware.ManagementAuth(func() string {
		return deps.Config.ManagementKey
	}))
	{
		m.GET("/providers", mgmt.ListProviders)
		m.GET("/providers/:name", mgmt.GetProvider)
		m.PUT("/providers/:name", mgmt.PutProvider)
		m.DELETE("/providers/:name", mgmt.DeleteProvider)
		m.POST("/providers/:name/test", mgmt.TestProvider)
		m.GET("/providers/:name/models", mgmt.ListProviderModels)
		m.GET("/providers/:name/quota", mgmt.GetProviderQuota)
		m.POST("/providers/:name/quota/reset", mgmt.ResetProviderQuota)
		m.POST("/quota/reset", mgmt.ResetAllQuotas)

		m.GET("/models", mgmt.ListModels)
		m.GET("/models/:name", mgmt.GetModel)
		m.PUT("/models/:name", mgmt.PutModel)
		m.DELETE("/models/:name", mgmt.DeleteModel)

		m.GET("/usage", mgmt.GetUsage)
	}

	return engine
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	httpServer *http.Server
}

func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: SSE responses stay open as long as the
			// model keeps producing.
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Infof("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logging.Infof("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
