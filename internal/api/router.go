package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/buildgate/buildgate/internal/api/accounts"
	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/api/federated"
	"github.com/buildgate/buildgate/internal/api/middleware"
	apiprojects "github.com/buildgate/buildgate/internal/api/projects"
	"github.com/buildgate/buildgate/internal/api/roles"
	"github.com/buildgate/buildgate/internal/api/staff"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Create JWT service
	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.AccessTokenTTL)

	// Create lockout tracker
	lockoutTracker := auth.NewLockoutTracker(s.config.LockoutThreshold, s.config.LockoutDuration)

	// Create rate limiters
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)
	accountLimiter := middleware.NewRateLimiter(s.config.RateLimitPerUser)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	authHandler := auth.NewHandler(s.storage, jwtService, lockoutTracker, s.config.RefreshTokenTTL)
	accountHandler := accounts.NewHandler(s.storage, s.accounts)
	projectHandler := apiprojects.NewHandler(s.storage, s.projects)
	staffHandler := staff.NewHandler(s.storage, s.accounts, s.projects, s.config.Staleness, s.config.ServiceAccounts)
	federatedHandler := federated.NewHandler(s.storage, s.accounts, jwtService, authHandler.TokenService())
	rolesHandler := roles.NewHandler(s.storage, s.projects, s.config.APIUser, s.config.RoleQueryRPS, s.config.RoleQueryBurst)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (mostly public)
		r.Route("/auth", func(r chi.Router) {
			// Public routes with IP rate limiting
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(ipLimiter))
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
			})

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTAuth(jwtService))
				r.Post("/logout", authHandler.Logout)
			})
		})

		// Self-registration and activation (public, IP rate limited)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ipLimiter))
			r.Post("/accounts", accountHandler.Register)
			r.Post("/accounts/activate/{key}", accountHandler.Activate)
		})

		// Authenticated self-service
		r.Route("/accounts/me", func(r chi.Router) {
			r.Use(middleware.JWTOrSessionAuth(jwtService, s.sessions))
			r.Use(middleware.RateLimitByAccount(accountLimiter))
			r.Get("/", accountHandler.GetCurrent)
			r.Put("/", accountHandler.UpdateCurrent)
			r.Put("/password", accountHandler.ChangePassword)
			r.Delete("/", accountHandler.DeleteCurrent)
		})

		// Projects (authenticated, permission checks in the handlers)
		r.Route("/projects", func(r chi.Router) {
			r.Use(middleware.JWTOrSessionAuth(jwtService, s.sessions))
			r.Use(middleware.RateLimitByAccount(accountLimiter))
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.GetByID)
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Delete)
				r.Get("/members", projectHandler.Members)
				r.Put("/admins", projectHandler.SetAdmins)
				r.Put("/users", projectHandler.SetUsers)
			})
		})

		// Staff console
		r.Route("/staff", func(r chi.Router) {
			r.Use(middleware.JWTOrSessionAuth(jwtService, s.sessions))
			r.Use(middleware.RequireStaff)
			r.Use(middleware.RateLimitByAccount(accountLimiter))
			r.Get("/accounts", staffHandler.ListAccounts)
			r.Post("/accounts/{id}/approve", staffHandler.ApproveAccount)
			r.Post("/accounts/{id}/reject", staffHandler.RejectAccount)
			r.Delete("/accounts/{id}", staffHandler.DeleteAccount)
			r.Get("/projects", staffHandler.ListProjects)
			r.Post("/projects/{id}/approve", staffHandler.ApproveProject)
			r.Post("/projects/{id}/reject", staffHandler.RejectProject)
			r.Post("/cleanup", staffHandler.CleanupExpired)
		})
	})

	// Federated sign-on, gated by the identity provider header that the
	// fronting proxy sets after authentication.
	r.Route("/sso", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ipLimiter))
		r.Use(middleware.FederatedHeader(s.config.FederatedHeader))
		r.Get("/", federatedHandler.SignOn)
		r.Post("/register", federatedHandler.Register)
	})

	// Role queries for the build service. Basic auth and per-IP rate
	// limiting happen inside the handler; the response has no envelope.
	r.Get("/api/roles/{username}", rolesHandler.Query)

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
