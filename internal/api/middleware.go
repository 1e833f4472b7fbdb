// ABOUTME: HTTP middleware for the REST surface: auth, logging and metrics
// ABOUTME: Authenticated usernames travel through the request context

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Chronosbabu/serveurbabu/internal/auth"
	"github.com/Chronosbabu/serveurbabu/internal/metrics"
)

type ctxKey int

const usernameKey ctxKey = 0

// UsernameFromContext returns the authenticated username, or "" when the
// request did not pass through RequireAuth.
func UsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// RequireAuth rejects requests the authenticator cannot attribute to an
// identity and stores the username in the request context otherwise.
func RequireAuth(authn auth.Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := authn.Authenticate(r)
			if err != nil {
				logger.Warn("request rejected", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), usernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs one line per request at debug, errors at warn.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", attrs...)
			} else {
				logger.Debug("request", attrs...)
			}
		})
	}
}

// Metrics records request counts and latency on the shared registry.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
