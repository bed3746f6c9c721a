package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voxlane/voxlane-platform/internal/analytics"
	httpmiddleware "github.com/voxlane/voxlane-platform/internal/http/middleware"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger    *logging.Logger
	Analytics *analytics.Handler

	AuthSecret         string
	CORSAllowedOrigins []string
	RateLimitPerSec    float64
	RateLimitBurst     int

	MetricsHandler http.Handler
	ReadyCheck     func() error
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSec > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.ReadyCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Dashboard API, token-authenticated
	if cfg.Analytics != nil {
		r.Route("/api/v1", func(api chi.Router) {
			api.Use(httpmiddleware.CallerJWT(cfg.AuthSecret))
			cfg.Analytics.Routes(api)
		})
	}

	return r
}

func healthHandler(ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if ready != nil {
			if err := ready(); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
