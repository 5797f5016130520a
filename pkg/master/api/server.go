// Package api assembles and serves the master's REST API: operator
// endpoints, the public enrollment pair and the agent-facing daemon
// surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/api/auth"
	"github.com/wpfleet/wpfleet/internal/master/progress"
	"github.com/wpfleet/wpfleet/internal/master/quota"
	"github.com/wpfleet/wpfleet/internal/master/reconcile"
	"github.com/wpfleet/wpfleet/internal/master/retention"
	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/internal/seal"
	"github.com/wpfleet/wpfleet/pkg/metrics"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/objstore"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Server is the master's HTTP server plus the domain services behind
// it. Background maintenance (retention sweeps, periodic
// reconciliation, abandoned-progress sweeps) runs from Start's context.
type Server struct {
	server       *http.Server
	services     Services
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer wires the domain services and creates the API server.
//
// The server is created in a stopped state; call Start to serve. The
// JWT secret must be at least 32 characters, configured via
// config.JWT.Secret or the WPFLEET_MASTER_SECRET environment variable.
func NewServer(config APIConfig, st *store.Store, sealer *seal.Sealer, version string) (*Server, error) {
	config.applyDefaults()

	jwtSecret := config.GetJWTSecret()
	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               jwtSecret,
		Issuer:               "wpfleet",
		AccessTokenDuration:  config.JWT.AccessTokenDuration,
		RefreshTokenDuration: config.JWT.RefreshTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	settingsService := settings.NewService(st)
	retentionWorker := retention.NewWorker(st, settingsService,
		func(ctx context.Context, p *models.StorageProvider) (retention.BlobDeleter, error) {
			return objstore.NewForProvider(ctx, p, sealer)
		})
	reconciler := reconcile.New(st, settingsService,
		func(ctx context.Context, p *models.StorageProvider) (reconcile.Bucket, error) {
			return objstore.NewForProvider(ctx, p, sealer)
		})

	services := Services{
		Store:      st,
		JWT:        jwtService,
		Sealer:     sealer,
		Progress:   progress.NewService(st),
		Quota:      quota.NewService(st),
		Settings:   settingsService,
		Retention:  retentionWorker,
		Reconciler: reconciler,
		Activity:   activity.NewRecorder(st),
		Metrics:    metrics.NewHTTPMetrics(),
		Version:    version,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(services),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server:   server,
		services: services,
		config:   config,
	}, nil
}

// Services exposes the wired domain services, for the CLI and tests.
func (s *Server) Services() Services {
	return s.services
}

// Start serves the API and runs the maintenance loops until the
// context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Jobs orphaned by a master or agent crash would hold their sites
	// RUNNING forever; sweep them on start and periodically after.
	s.sweepAbandoned(ctx)

	go s.services.Retention.Run(ctx)
	go s.services.Reconciler.RunPeriodic(ctx)
	go s.runProgressSweeper(ctx)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}

func (s *Server) runProgressSweeper(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAbandoned(ctx)
		}
	}
}

func (s *Server) sweepAbandoned(ctx context.Context) {
	swept, err := s.services.Progress.SweepAbandoned(ctx, progress.AbandonedAfter)
	if err != nil {
		logger.Error("Abandoned progress sweep failed", "error", err)
		return
	}
	if len(swept) > 0 {
		logger.Warn("Swept abandoned backup jobs", "sites", swept)
	}
}
