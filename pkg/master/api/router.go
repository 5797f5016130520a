package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/api/auth"
	"github.com/wpfleet/wpfleet/internal/master/api/handlers"
	"github.com/wpfleet/wpfleet/internal/master/progress"
	"github.com/wpfleet/wpfleet/internal/master/quota"
	"github.com/wpfleet/wpfleet/internal/master/reconcile"
	"github.com/wpfleet/wpfleet/internal/master/retention"
	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/internal/seal"
	apiMiddleware "github.com/wpfleet/wpfleet/pkg/api/middleware"
	"github.com/wpfleet/wpfleet/pkg/metrics"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/objstore"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Services bundles the master's domain services for the router. Every
// field is required except Metrics.
type Services struct {
	Store      *store.Store
	JWT        *auth.JWTService
	Sealer     *seal.Sealer
	Progress   *progress.Service
	Quota      *quota.Service
	Settings   *settings.Service
	Retention  *retention.Worker
	Reconciler *reconcile.Reconciler
	Activity   *activity.Recorder
	Metrics    *metrics.HTTPMetrics
	Version    string
}

// NewRouter creates the chi router with the full master API surface:
// public enrollment endpoints, the bearer-token operator API and the
// API-key daemon surface.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(svc.Metrics.Middleware)

	blobClients := func(ctx context.Context, p *models.StorageProvider) (handlers.BlobClient, error) {
		return objstore.NewForProvider(ctx, p, svc.Sealer)
	}

	healthHandler := handlers.NewHealthHandler(svc.Store, svc.Version)
	authHandler := handlers.NewAuthHandler(svc.Store, svc.JWT, svc.Sealer, svc.Activity)
	nodesHandler := handlers.NewNodesHandler(svc.Store, svc.Activity)
	sitesHandler := handlers.NewSitesHandler(svc.Store, svc.Quota, svc.Activity)
	backupsHandler := handlers.NewBackupsHandler(svc.Store, svc.Progress, svc.Quota, svc.Activity, blobClients)
	daemonHandler := handlers.NewDaemonHandler(svc.Store, svc.Progress, svc.Quota, svc.Settings, svc.Retention, svc.Sealer)
	streamHandler := handlers.NewStreamHandler(svc.Store, svc.Progress)
	storageHandler := handlers.NewStorageHandler(svc.Store, svc.Reconciler, svc.Activity)
	activityHandler := handlers.NewActivityHandler(svc.Store, svc.Activity)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Enrollment - unauthenticated; a joining node has no credential yet.
		r.Post("/nodes/join-request", nodesHandler.Join)
		r.Get("/nodes/status/code/{code}", nodesHandler.StatusByCode)

		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/mfa/verify", authHandler.MFAVerify)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(svc.JWT))
				r.Get("/me", authHandler.Me)
			})
		})

		// Operator API - bearer tokens, RBAC inside handlers unless the
		// whole route is role-gated.
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(svc.JWT))
			r.Use(chimiddleware.Timeout(30 * time.Second))

			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", nodesHandler.List)
				r.Get("/{id}", nodesHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(apiMiddleware.RequireRole(models.RoleSuperAdmin))
					r.Post("/approve/{id}", nodesHandler.Approve)
					r.Post("/{id}/block", nodesHandler.Block)
					r.Post("/{id}/unblock", nodesHandler.Unblock)
					r.Put("/{id}/quota", nodesHandler.SetQuota)
				})
			})

			r.Route("/sites", func(r chi.Router) {
				r.Get("/", sitesHandler.List)
				r.Get("/{id}", sitesHandler.Get)
				r.Put("/{id}/quota", sitesHandler.SetQuota)
				r.Get("/{id}/quota/check", sitesHandler.QuotaCheck)
				r.Put("/{id}/schedule", sitesHandler.Schedule)

				r.Post("/{id}/backup/start", backupsHandler.Start)
				r.Get("/{id}/backup/status", backupsHandler.Status)
				r.Post("/{id}/backup/stop", backupsHandler.Stop)
				r.Get("/{id}/backups", backupsHandler.ListForSite)
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/scheduled-deletions", backupsHandler.ScheduledDeletions)
				r.Get("/{id}", backupsHandler.Get)
				r.Delete("/{id}", backupsHandler.Delete)
				r.Delete("/{id}/cancel-deletion", backupsHandler.CancelDeletion)
				r.Get("/{id}/download", backupsHandler.Download)
			})

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequireRole(models.RoleSuperAdmin))
				r.Post("/storage/reconcile", storageHandler.Reconcile)
			})

			r.Get("/activity", activityHandler.List)
		})

		// Daemon API - node API keys.
		r.Route("/daemon", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.NodeAPIKeyAuth(svc.Store))
				r.Use(chimiddleware.Timeout(30 * time.Second))

				r.Get("/storage-config", daemonHandler.StorageConfig)
				r.Post("/heartbeat", daemonHandler.Heartbeat)
				r.Post("/sites/sync", daemonHandler.SyncSites)
				r.Get("/sites", daemonHandler.Sites)
				r.Post("/quota/preflight", daemonHandler.Preflight)
				r.Get("/backup/pending", daemonHandler.PendingBackups)
				r.Post("/backup/start/{site_id}", daemonHandler.StartBackup)
				r.Put("/backup/progress/{site_id}", daemonHandler.UpdateProgress)
				r.Post("/backup/report", daemonHandler.Report)
			})

			// Reset and the progress stream accept either principal; the
			// stream also takes ?token= for EventSource clients. No
			// timeout middleware: streams outlive any sane request budget.
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.TokenQueryParam)
				r.Use(apiMiddleware.NodeOrUserAuth(svc.JWT, svc.Store))

				r.Post("/backup/reset/{site_id}", daemonHandler.ResetProgress)
				r.Get("/backup/stream/{site_id}", streamHandler.Stream)
			})
		})
	})

	// Scrape endpoint, present only when metrics are initialized.
	if h := metrics.Handler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests through the internal logger. Healthcheck
// hits log at DEBUG to keep probe noise out of production logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
