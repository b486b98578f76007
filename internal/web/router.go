package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"github.com/buildgate/buildgate/internal/web/middleware"
)

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	// CSRF protection
	csrfMiddleware := csrf.Protect(
		s.csrfKey,
		csrf.Secure(s.useSecureCookies),
		csrf.Path("/"),
	)
	r.Use(csrfMiddleware)

	// Public routes
	r.Get("/login", s.handler.CSRFToken)
	r.Post("/login", s.handler.HandleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(s.sessions))

		r.Get("/session", s.handler.ShowSession)
		r.Post("/logout", s.handler.HandleLogout)
	})

	return r
}
