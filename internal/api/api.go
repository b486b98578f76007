// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/api/health"
	projectsvc "github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
	"github.com/buildgate/buildgate/internal/web/session"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	JWTSecret        []byte
	HTTPTLSEnabled   bool   // Enable HTTPS for API server
	HTTPTLSCertFile  string // HTTPS certificate file
	HTTPTLSKeyFile   string // HTTPS private key file
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	RateLimitPerIP   int
	RateLimitPerUser int
	LockoutThreshold int
	LockoutDuration  time.Duration

	// APIUser is the privileged service account allowed to query roles.
	APIUser string
	// RoleQueryRPS bounds role queries per second per client IP.
	RoleQueryRPS   float64
	RoleQueryBurst int

	// FederatedHeader carries the identity provider's persistent id.
	FederatedHeader string

	// Staleness is how long an active account may go without logging in
	// before the staff console lists it as stale.
	Staleness time.Duration

	// ServiceAccounts are hidden from the staff listings.
	ServiceAccounts []string

	Verbose bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour // 7 days
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 5 // 5 requests per minute for the public surface
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 100 // 100 requests per minute
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5 // 5 failed attempts
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 30 * time.Minute
	}
	if c.RoleQueryRPS == 0 {
		c.RoleQueryRPS = 10
	}
	if c.RoleQueryBurst == 0 {
		c.RoleQueryBurst = 20
	}
	if c.Staleness == 0 {
		c.Staleness = 365 * 24 * time.Hour
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	accounts      *accountsvc.Service
	projects      *projectsvc.Service
	sessions      *session.Store
	server        *http.Server
	router        *chi.Mux
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, accounts *accountsvc.Service, projects *projectsvc.Service) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if cfg.APIUser == "" {
		return nil, fmt.Errorf("api user is required")
	}

	cfg.SetDefaults()

	// Session store for browser clients (24 hour TTL)
	sessions := session.NewStore(24 * time.Hour)

	s := &Server{
		config:        cfg,
		storage:       store,
		accounts:      accounts,
		projects:      projects,
		sessions:      sessions,
		healthHandler: health.NewHandler(),
	}

	s.router = s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// MountWeb attaches the browser session routes under the given prefix.
func (s *Server) MountWeb(prefix string, routes chi.Router) {
	s.router.Mount(prefix, routes)
}

// Sessions returns the session store for browser integration.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		s.sessions.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
