package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"medquote/internal/apperr"
	"medquote/internal/audit"
	"medquote/internal/models"
)

type Authenticator interface {
	Authenticate(token string) (models.Caller, error)
}

type callerKey struct{}

func WithCaller(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller set by BearerAuth, or the zero Caller.
func CallerFrom(ctx context.Context) models.Caller {
	c, _ := ctx.Value(callerKey{}).(models.Caller)
	return c
}

// BearerAuth rejects requests without a valid bearer token and stores the
// authenticated caller in the request context.
func BearerAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token: %w", apperr.ErrUnauthenticated))
				return
			}
			caller, err := auth.Authenticate(strings.TrimSpace(token))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// BasicAuthMiddleware guards the listed methods; with no methods every
// request is guarded.
func BasicAuthMiddleware(user, pass string, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(methods) > 0 && !methodInList(r.Method, methods) {
				next.ServeHTTP(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="operator"`)
				writeError(w, http.StatusUnauthorized, apperr.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogMiddleware logs and audits requests with one of the listed methods.
func LogMiddleware(auditLog audit.Logger, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if methodInList(r.Method, methods) {
				log.Printf("[%s] %s", r.Method, r.URL.Path)
				auditLog.Log(audit.Record{
					Timestamp:  time.Now().UTC(),
					EntityType: audit.EntityHTTP,
					Endpoint:   r.Method + " " + r.URL.Path,
					Actor:      CallerFrom(r.Context()).UserID,
					Message:    "request received",
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

func methodInList(method string, methods []string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": apperr.Kind(err)})
}
