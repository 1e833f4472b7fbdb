// ABOUTME: Websocket hub: upgrades connections and binds them to the chat service
// ABOUTME: Each accepted socket becomes a client with recv and send loops

package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Chronosbabu/serveurbabu/internal/auth"
	"github.com/Chronosbabu/serveurbabu/internal/chat"
	"github.com/Chronosbabu/serveurbabu/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The hub sits behind the reverse proxy that enforces origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub accepts websocket connections and serves live sessions. Every new
// connection registers with presence, subscribes to the identity's personal
// room and triggers the reconnect reconciliation pass.
type Hub struct {
	svc    *chat.Service
	authn  auth.Authenticator
	logger *slog.Logger
}

// NewHub creates a hub over the chat service. Pass nil logger for default.
func NewHub(svc *chat.Service, authn auth.Authenticator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		svc:    svc,
		authn:  authn,
		logger: logger.With("component", "ws"),
	}
}

// ServeHTTP handles websocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, err := h.authn.Authenticate(r)
	if err != nil {
		h.logger.Warn("websocket auth failed", "error", err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	// If the upgrade fails, Upgrade has already replied with an HTTP error.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "username", username, "error", err)
		return
	}

	// The socket outlives the upgrade request; its lifetime is governed by
	// the client context, not the request context.
	ctx, cancel := context.WithCancel(context.Background())

	c := &client{
		hub:      h,
		username: username,
		conn:     conn,
		out:      make(chan chat.Event, outBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	// Subscribe to the personal room before reconciliation so the session
	// observes its own catch-up events.
	c.join(username)

	metrics.OpenConnections.Inc()
	if err := h.svc.Connect(ctx, username); err != nil {
		h.logger.Error("connect failed", "username", username, "error", err)
		c.shutdown()
		return
	}

	h.logger.Debug("session opened", "username", username)

	go c.recvLoop()
	go c.sendLoop()
}
