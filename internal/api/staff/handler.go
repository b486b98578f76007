// Package staff provides the staff console endpoints: account and
// project listings plus the approve, reject and cleanup actions.
package staff

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/models"
	projectsvc "github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
)

// Response helpers (local to avoid import cycle)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeConflict      = "CONFLICT"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Handler handles the staff console endpoints.
type Handler struct {
	storage         storage.Storage
	accounts        *accountsvc.Service
	projects        *projectsvc.Service
	staleness       time.Duration
	serviceAccounts []string
}

// NewHandler creates a new staff handler. serviceAccounts names the
// built-in accounts hidden from every listing.
func NewHandler(store storage.Storage, accounts *accountsvc.Service, projects *projectsvc.Service, staleness time.Duration, serviceAccounts []string) *Handler {
	return &Handler{
		storage:         store,
		accounts:        accounts,
		projects:        projects,
		staleness:       staleness,
		serviceAccounts: serviceAccounts,
	}
}

// AccountEntry is one row of an account listing.
type AccountEntry struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	State     string     `json:"state"`
	Staff     bool       `json:"staff"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}

// ProjectEntry is one row of a project listing.
type ProjectEntry struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListAccounts serves the account listings. The view query parameter
// selects the slice: all, registration, pending, active, staff, deleted
// or stale.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := storage.AccountFilter{ExcludeUsernames: h.serviceAccounts}

	switch view := r.URL.Query().Get("view"); view {
	case "", "all":
	case "registration":
		filter.State = models.StatePendingConfirm
	case "pending":
		filter.State = models.StatePendingApproval
	case "active":
		filter.State = models.StateActive
	case "staff":
		filter.State = models.StateActive
		filter.StaffOnly = true
	case "deleted":
		filter.State = models.StateDeleted
	case "stale":
		cutoff := time.Now().Add(-h.staleness)
		filter.State = models.StateActive
		filter.LastLoginBefore = &cutoff
	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "unknown view: "+view)
		return
	}

	accounts, err := h.storage.Accounts().List(r.Context(), filter)
	if err != nil {
		log.Printf("list accounts error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	entries := make([]*AccountEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = accountEntry(a)
	}

	jsonOK(w, entries)
}

// ApproveAccount moves a pending account to active and mails the owner.
func (h *Handler) ApproveAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	account, err := h.accounts.Approve(r.Context(), accountID)
	switch {
	case errors.Is(err, accountsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	case errors.Is(err, accountsvc.ErrNotPending):
		jsonError(w, http.StatusConflict, errCodeConflict, "account is not awaiting approval")
		return
	case err != nil:
		log.Printf("approve account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account approved: %s (%s)", account.Username, account.ID)

	jsonOK(w, accountEntry(account))
}

// RejectAccount refuses a pending registration. The account row is
// removed entirely; owners of projects cannot be rejected.
func (h *Handler) RejectAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	err := h.accounts.Reject(r.Context(), accountID)
	var owns *accountsvc.OwnsProjectsError
	switch {
	case errors.Is(err, accountsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	case errors.As(err, &owns):
		jsonError(w, http.StatusConflict, errCodeConflict, owns.Error())
		return
	case err != nil:
		log.Printf("reject account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account rejected: %s", accountID)

	jsonNoContent(w)
}

// DeleteAccount logically deletes an account on behalf of staff.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	err := h.accounts.LogicalDelete(r.Context(), accountID)
	var owns *accountsvc.OwnsProjectsError
	switch {
	case errors.Is(err, accountsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	case errors.As(err, &owns):
		jsonError(w, http.StatusConflict, errCodeConflict, owns.Error())
		return
	case err != nil:
		log.Printf("delete account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account deleted by staff: %s", accountID)

	jsonNoContent(w)
}

// ListProjects serves the project listings. pending=1 narrows to
// projects awaiting approval.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		list []*models.Project
		err  error
	)
	if r.URL.Query().Get("pending") == "1" {
		list, err = h.storage.Projects().ListPending(ctx)
	} else {
		list, err = h.storage.Projects().List(ctx, false)
	}
	if err != nil {
		log.Printf("list projects error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	entries := make([]*ProjectEntry, len(list))
	for i, p := range list {
		entries[i] = projectEntry(p)
	}

	jsonOK(w, entries)
}

// ApproveProject activates a pending project and mails its owner.
func (h *Handler) ApproveProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid project id")
		return
	}

	project, err := h.projects.Approve(r.Context(), projectID)
	switch {
	case errors.Is(err, projectsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "project not found")
		return
	case err != nil:
		log.Printf("approve project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project approved: %s (%d)", project.Name, project.ID)

	jsonOK(w, projectEntry(project))
}

// RejectProject refuses a pending project, removing it and its groups.
func (h *Handler) RejectProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid project id")
		return
	}

	err = h.projects.Reject(r.Context(), projectID)
	switch {
	case errors.Is(err, projectsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "project not found")
		return
	case err != nil:
		log.Printf("reject project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project rejected: %d", projectID)

	jsonNoContent(w)
}

// CleanupExpired removes registrations whose activation window passed
// without the key ever being used, together with their accounts.
func (h *Handler) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	removed, err := h.accounts.CleanupExpired(r.Context())
	if err != nil {
		log.Printf("cleanup error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("cleanup removed %d expired registrations", removed)

	jsonOK(w, map[string]int{"removed": removed})
}

func accountEntry(a *models.Account) *AccountEntry {
	return &AccountEntry{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		State:     string(a.State),
		Staff:     a.Staff,
		LastLogin: a.LastLogin,
		CreatedAt: a.DateJoined,
	}
}

func projectEntry(p *models.Project) *ProjectEntry {
	return &ProjectEntry{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
	}
}
