// Package web provides the cookie-session entry points used by browser
// clients alongside the token API.
package web

import (
	"time"

	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/storage"
	"github.com/buildgate/buildgate/internal/web/handlers"
	"github.com/buildgate/buildgate/internal/web/session"
)

type Server struct {
	handler          *handlers.Handler
	sessions         *session.Store
	csrfKey          []byte
	useSecureCookies bool
}

func NewServer(store storage.Storage, csrfKey string, lockout *auth.LockoutTracker) *Server {
	sessions := session.NewStore(24 * time.Hour)
	return NewServerWithSessions(store, csrfKey, lockout, sessions, false)
}

// NewServerWithSessions creates a new server with a provided session store.
// This allows sharing the session store with the API server.
func NewServerWithSessions(store storage.Storage, csrfKey string, lockout *auth.LockoutTracker, sessions *session.Store, useSecureCookies bool) *Server {
	return &Server{
		handler:          handlers.NewHandler(store, sessions, lockout, useSecureCookies),
		sessions:         sessions,
		csrfKey:          []byte(csrfKey),
		useSecureCookies: useSecureCookies,
	}
}

func (s *Server) Sessions() *session.Store {
	return s.sessions
}

func (s *Server) Handler() *handlers.Handler {
	return s.handler
}

func (s *Server) CSRFKey() []byte {
	return s.csrfKey
}
