// Package server exposes the kernel's services over HTTP. It is an adapter:
// every handler parses the request, calls the same service the plugins use
// in-process, and translates typed errors into status codes. No business
// logic lives here.
//
// Non-data endpoints wrap responses in the {success, data, error, message}
// envelope. Data endpoints return records and find results bare, so API
// clients can bind them to their own types without unwrapping.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"objectos/internal/audit"
	"objectos/internal/config"
	"objectos/internal/datastore"
	"objectos/internal/jobs"
	"objectos/internal/kernel"
	"objectos/internal/metrics"
	"objectos/internal/notify"
	"objectos/internal/permission"
	"objectos/internal/plugins/auth"
	"objectos/pkg/logging"
)

// Dependencies are the services the handlers call. The app wires them from
// the kernel's service registry after bootstrap; tests wire them directly.
// Auth and Metrics may be nil, which disables bearer authentication and the
// metrics endpoints respectively. Everything else is required.
type Dependencies struct {
	Kernel      *kernel.Kernel
	Auth        *auth.Service
	Store       *datastore.Store
	Permissions *permission.Engine
	Audit       *audit.Recorder
	Jobs        *jobs.Queue
	Notifier    *notify.Notifier
	Metrics     *metrics.Metrics
}

// Server is the HTTP front of an objectos process.
type Server struct {
	cfg  config.ServerConfig
	deps Dependencies
	http *http.Server
}

// New builds the server with its full routing table. Nothing listens until
// Start is called.
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.http = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router assembles the chi routing table. Exposed so tests can drive the
// handlers through httptest without opening a socket.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.logRequests)
	if s.deps.Metrics != nil {
		r.Use(s.observeRequests)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusNotFound, codeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics stay open: probes and scrapers do not
		// carry bearer tokens.
		r.Get("/health", s.handleHealth)
		if s.deps.Metrics != nil {
			r.Get("/metrics", s.handleMetricsSnapshot)
			r.Method(http.MethodGet, "/metrics/prometheus", s.deps.Metrics.Handler())
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/metadata", func(r chi.Router) {
				r.Get("/objects", s.handleListObjects)
				r.Get("/objects/{name}", s.handleGetObject)
			})

			r.Route("/data/{object}", func(r chi.Router) {
				r.Get("/", s.handleFind)
				r.Post("/", s.handleCreate)
				r.Get("/{id}", s.handleGetRecord)
				r.Patch("/{id}", s.handleUpdate)
				r.Delete("/{id}", s.handleDelete)
			})

			r.Post("/permissions/check", s.handlePermissionCheck)
			r.Get("/audit/events", s.handleAuditEvents)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.handleListJobs)
				r.Post("/", s.handleEnqueueJob)
				r.Get("/stats", s.handleJobStats)
				r.Get("/{id}", s.handleGetJob)
				r.Post("/{id}/retry", s.handleRetryJob)
				r.Post("/{id}/cancel", s.handleCancelJob)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Post("/send", s.handleSendNotification)
				r.Get("/channels", s.handleChannels)
				r.Get("/queue/status", s.handleQueueStatus)
			})
		})
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORS.Origins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORS.Origins
}

// Start blocks serving requests until Shutdown is called or the listener
// fails. http.ErrServerClosed is swallowed; a clean shutdown is not an error.
func (s *Server) Start() error {
	logging.Info("HTTP", "Listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("HTTP", "Shutting down")
	return s.http.Shutdown(ctx)
}
