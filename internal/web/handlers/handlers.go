// Package handlers provides the browser-facing session endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/storage"
	"github.com/buildgate/buildgate/internal/web/session"
)

type Handler struct {
	storage        storage.Storage
	sessions       *session.Store
	lockoutTracker *auth.LockoutTracker
	secureCookies  bool
}

func NewHandler(store storage.Storage, sessions *session.Store, lockout *auth.LockoutTracker, secureCookies bool) *Handler {
	if sessions == nil {
		sessions = session.NewStore(24 * time.Hour)
	}
	return &Handler{
		storage:        store,
		sessions:       sessions,
		lockoutTracker: lockout,
		secureCookies:  secureCookies,
	}
}

// Helper to get session from context
type contextKey string

const SessionContextKey contextKey = "session"

func GetSession(r *http.Request) *session.Session {
	if s, ok := r.Context().Value(SessionContextKey).(*session.Session); ok {
		return s
	}
	return nil
}
