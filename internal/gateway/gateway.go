// ABOUTME: Gateway orchestrator that wires the store, chat service and HTTP server
// ABOUTME: Manages startup, the serve loop and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Chronosbabu/serveurbabu/internal/api"
	"github.com/Chronosbabu/serveurbabu/internal/auth"
	"github.com/Chronosbabu/serveurbabu/internal/chat"
	"github.com/Chronosbabu/serveurbabu/internal/config"
	"github.com/Chronosbabu/serveurbabu/internal/docstore"
	"github.com/Chronosbabu/serveurbabu/internal/identity"
	"github.com/Chronosbabu/serveurbabu/internal/ws"
)

// Gateway orchestrates the messaging server components: the document store,
// the chat service with its broadcaster, and the HTTP server carrying both
// the REST surface and the websocket hub.
type Gateway struct {
	config      *config.Config
	docs        docstore.Store
	broadcaster *chat.RoomBroadcaster
	service     *chat.Service
	httpServer  *http.Server
	logger      *slog.Logger
}

// initDocs creates the document store selected by config. The BABU_DB_PATH
// environment variable overrides the configured path.
func initDocs(cfg *config.Config) (docstore.Store, error) {
	path := cfg.Database.Path
	if envPath := os.Getenv("BABU_DB_PATH"); envPath != "" {
		path = envPath
	}

	var docs docstore.Store
	var err error
	switch cfg.Database.Driver {
	case "bolt":
		docs, err = docstore.NewBoltStore(path)
	default:
		docs, err = docstore.NewSQLiteStore(path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing document store: %w", err)
	}
	return docs, nil
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case "header":
		return auth.Static{}, nil
	case "jwt":
		return auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret)), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// New creates a Gateway from configuration. The returned gateway owns the
// store and broadcaster; call Run to serve and shut down cleanly.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := initDocs(cfg)
	if err != nil {
		return nil, err
	}

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		docs.Close()
		return nil, err
	}

	broadcaster := chat.NewRoomBroadcaster(logger)
	store := chat.NewStore(docs, logger)
	presence := chat.NewPresenceRegistry()
	profiles := identity.NewDocResolver(docs)
	service := chat.NewService(store, presence, broadcaster, profiles, logger)

	hub := ws.NewHub(service, authn, logger)
	router := api.NewRouter(api.RouterConfig{
		Service:       service,
		Authenticator: authn,
		Socket:        hub,
		Logger:        logger,
		EnableMetrics: cfg.Metrics.Enabled,
	})

	g := &Gateway{
		config:      cfg,
		docs:        docs,
		broadcaster: broadcaster,
		service:     service,
		logger:      logger.With("component", "gateway"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return g, nil
}

// Service exposes the chat service, primarily for tests and tooling.
func (g *Gateway) Service() *chat.Service { return g.service }

// Handler exposes the HTTP root handler, primarily for tests.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// Run serves until the context is canceled or the server fails, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.logger.Info("gateway listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-errCh:
		g.logger.Error("http server failed", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context since the run context
// is already canceled by the time we get here.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, then tears down the broadcaster and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.broadcaster.Close()

	if err := g.docs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
