// ABOUTME: chi router assembling middleware, REST handlers and the websocket hub
// ABOUTME: Single entry point the gateway mounts on its HTTP server

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Chronosbabu/serveurbabu/internal/auth"
	"github.com/Chronosbabu/serveurbabu/internal/chat"
)

// RouterConfig carries the router's dependencies and switches.
type RouterConfig struct {
	Service       *chat.Service
	Authenticator auth.Authenticator
	Socket        http.Handler
	Logger        *slog.Logger
	EnableMetrics bool
}

// NewRouter builds the full HTTP surface: REST endpoints, the websocket
// upgrade path and operational endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)

	h := NewHandler(cfg.Service, logger)

	r.Get("/healthz", h.Health)
	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// The hub runs its own credential check so tokens can ride the query
	// string during the upgrade handshake.
	if cfg.Socket != nil {
		r.Handle("/ws", cfg.Socket)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Authenticator, logger))

		r.Post("/send_message", h.SendMessage)
		r.Post("/send_file", h.SendFile)
		r.Get("/conversations", h.Conversations)
		r.Get("/conversations/{username}/messages", h.Messages)
	})

	return r
}
