// Package roles provides the role query endpoint the build service
// polls to resolve a user's project permissions.
package roles

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
)

// Handler handles role queries. Access is restricted to the one
// privileged API account configured at startup; everything else gets
// 401 regardless of whether the credentials belong to a real account.
type Handler struct {
	storage  storage.Storage
	projects *projects.Service
	apiUser  string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHandler creates a new role query handler. rps bounds how many
// queries per second a single client IP may issue.
func NewHandler(store storage.Storage, projectSvc *projects.Service, apiUser string, rps float64, burst int) *Handler {
	return &Handler{
		storage:  store,
		projects: projectSvc,
		apiUser:  apiUser,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// RolesResponse is the wire format the build service expects. It is
// emitted as-is, without the usual response envelope.
type RolesResponse struct {
	Roles    RoleSets `json:"roles"`
	Username string   `json:"username"`
}

// RoleSets lists project names per role, sorted by name.
type RoleSets struct {
	Admin []string `json:"admin"`
	User  []string `json:"user"`
}

func (h *Handler) limiterFor(ip string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	limiter, ok := h.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[ip] = limiter
	}
	return limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authorize checks HTTP Basic credentials against the privileged API
// account. The password is always compared before the username.
func (h *Handler) authorize(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}

	account, err := h.storage.Accounts().GetByUsername(r.Context(), h.apiUser)
	if err != nil || account == nil || !account.IsActive() || !account.HasUsableCredential() {
		if err != nil {
			log.Printf("role query error: load api account: %v", err)
		}
		return false
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return false
	}

	return username == h.apiUser
}

// Query returns the admin and user project roles for the named
// account. Unknown and non-active accounts both answer 404 so the
// build service revokes access for deleted users the same way as for
// users that never existed.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if !h.limiterFor(clientIP(r)).Allow() {
		metrics.RoleQueriesTotal.WithLabelValues("rate_limited").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	if !h.authorize(r) {
		metrics.RoleQueriesTotal.WithLabelValues("unauthorized").Inc()
		w.Header().Set("WWW-Authenticate", `Basic realm="buildgate"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	username := chi.URLParam(r, "username")

	account, err := h.storage.Accounts().GetByUsername(ctx, username)
	if err != nil {
		log.Printf("role query error: get account: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if account == nil || !account.IsActive() {
		metrics.RoleQueriesTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	admin, user, err := h.projects.RolesFor(ctx, account.ID)
	if err != nil {
		log.Printf("role query error: resolve roles: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	metrics.RoleQueriesTotal.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&RolesResponse{
		Roles:    RoleSets{Admin: admin, User: user},
		Username: account.Username,
	})
}
