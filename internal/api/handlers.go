// ABOUTME: REST handlers for sending messages and reading conversation state
// ABOUTME: Thin JSON adapters over the chat service

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Chronosbabu/serveurbabu/internal/chat"
)

// Handler holds the shared dependencies of the REST surface.
type Handler struct {
	svc    *chat.Service
	logger *slog.Logger
}

// NewHandler creates the REST handler set over the chat service.
func NewHandler(svc *chat.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps chat service errors onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// SendMessageRequest is the POST /send_message body.
type SendMessageRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	ID        string `json:"id"`
}

// SendMessage appends a text message and fans it out to live sessions.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender := UsernameFromContext(r.Context())
	msg, err := h.svc.SendText(r.Context(), sender, req.Recipient, req.Message, req.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      msg.ID,
	})
}

// SendFileRequest is the POST /send_file body. The file itself is uploaded
// out of band; this records the reference and notifies the recipient.
type SendFileRequest struct {
	Recipient string `json:"recipient"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
}

// SendFile appends a file message with a type inferred from the filename.
func (h *Handler) SendFile(w http.ResponseWriter, r *http.Request) {
	var req SendFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender := UsernameFromContext(r.Context())
	msg, err := h.svc.SendFile(r.Context(), sender, req.Recipient, req.Filename, req.URL)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      msg.ID,
		"url":     req.URL,
		"type":    msg.Type,
	})
}

// Conversations lists the caller's conversation summaries, most recent first.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	user := UsernameFromContext(r.Context())
	summaries, err := h.svc.Summaries(r.Context(), user)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Messages returns the full history with a counterpart. Fetching the
// history counts as opening the conversation: pending messages are marked
// delivered and read, and the counterpart is notified.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	user := UsernameFromContext(r.Context())
	counterpart := chi.URLParam(r, "username")

	msgs, err := h.svc.Open(r.Context(), user, counterpart)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.DecorateHistory(r.Context(), msgs))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
