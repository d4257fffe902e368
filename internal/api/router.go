package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/clipgrab/internal/api/handler"
	mw "github.com/iconidentify/clipgrab/internal/api/middleware"
)

// RouterConfig carries the handlers and settings the router wires together.
type RouterConfig struct {
	Download *handler.DownloadHandler
	Health   *handler.HealthHandler
	Events   *handler.EventHandler
	// Limiter throttles POST /download per client IP. Nil disables it.
	Limiter *mw.IPRateLimiter
	// APIKey guards /api/v1. Empty leaves those routes unmounted.
	APIKey string
	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the peer
	// address, which also keys the rate limiter.
	TrustProxyHeaders bool
	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(mw.Logger(cfg.Logger))
	r.Use(mw.Recovery(cfg.Logger))
	r.Use(mw.CORS)

	r.Get("/health", cfg.Health.Live)
	r.Get("/ready", cfg.Health.Ready)

	r.Route("/download", func(r chi.Router) {
		// Streaming a large file can outlive the request timeout.
		r.Get("/{token}", cfg.Download.Stream)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			r.Get("/", cfg.Download.Status)
			if cfg.Limiter != nil {
				r.With(mw.RateLimit(cfg.Limiter)).Post("/", cfg.Download.Prepare)
			} else {
				r.Post("/", cfg.Download.Prepare)
			}
		})
	})

	if cfg.APIKey != "" {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(mw.APIKeyAuth(cfg.APIKey))

			r.Get("/stats", cfg.Health.Stats)
			if cfg.Events != nil {
				r.Get("/events", cfg.Events.List)
				r.Get("/events/stats", cfg.Events.Stats)
				r.Get("/events/stream", cfg.Events.Stream)
			}
		})
	}

	return r
}
