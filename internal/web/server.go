// Package web provides the HTTP API for bulk imports and shipment tracking.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/stockroom/internal/config"
	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/tracking"
	"github.com/JonMunkholm/stockroom/internal/web/middleware"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	// Tracking is nil when no 17track key is configured; shipment routes
	// then answer 503.
	Tracking *tracking.Service

	// Breakers are reported by /api/status and reset by
	// POST /api/breakers/reset.
	Breakers *core.BreakerSet

	// Metrics, when set, is served on /metrics without API key auth.
	Metrics http.Handler
}

// Server is the HTTP server.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	tracking *tracking.Service
	breakers *core.BreakerSet
	metrics  http.Handler
	limiter  *middleware.RateLimiter
	router   *chi.Mux
	server   *http.Server
	stop     context.CancelFunc
}

// NewServer wires routes and middleware.
func NewServer(cfg *config.Config, service *core.Service, opts Options) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		tracking: opts.Tracking,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
		router:   chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.Rate.RequestsPerMinute, cfg.Rate.Burst)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
	s.router.With(s.timeout).Get("/jobs/{id}", s.handleJobReport)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Streams outlive the request timeout.
		r.Get("/jobs/{id}/events", s.handleJobEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.timeout)

			r.Get("/entities", s.handleListEntities)
			r.Get("/status", s.handleStatus)
			r.Post("/breakers/reset", s.handleResetBreakers)

			r.Route("/import/{entity}", func(r chi.Router) {
				r.Post("/", s.handleImport)
				r.Post("/jobs", s.handleStartImportJob)
				r.Get("/template", s.handleTemplate)
				r.Get("/history", s.handleHistory)
			})

			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Post("/jobs/{id}/cancel", s.handleCancelJob)

			r.Post("/validate/image-url", s.handleValidateImageURL)

			r.Post("/shipments/sync-active", s.handleSyncActive)
			r.Post("/shipments/{id}/sync", s.handleSyncShipment)
		})
	})
}

func (s *Server) timeout(next http.Handler) http.Handler {
	d := s.cfg.Server.RequestTimeout
	if d <= 0 {
		return next
	}
	return chimw.Timeout(d)(next)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx)
	}

	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("http server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// The report page uses inline styles only.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src 'self' https: data:")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
