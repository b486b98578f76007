// Package projects provides the project API endpoints. Authorization
// goes through the permission resolver: owners always win, everyone
// else needs the matching group grant plus membership.
package projects

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buildgate/buildgate/internal/api/middleware"
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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeForbidden        = "FORBIDDEN"
	errCodeInternalError    = "INTERNAL_ERROR"
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

func jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func jsonForbidden(w http.ResponseWriter) {
	jsonError(w, http.StatusForbidden, errCodeForbidden, "access denied")
}

// Response types
type ProjectResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	Active      bool   `json:"active"`
	Role        string `json:"role,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type MemberResponse struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

type MembersResponse struct {
	Admins []*MemberResponse `json:"admins"`
	Users  []*MemberResponse `json:"users"`
}

type Handler struct {
	storage storage.Storage
	service *projectsvc.Service
}

func NewHandler(store storage.Storage, service *projectsvc.Service) *Handler {
	return &Handler{storage: store, service: service}
}

// Request types
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateRequest struct {
	Description *string `json:"description,omitempty"`
}

type MembersRequest struct {
	AccountIDs []string `json:"account_ids"`
}

// loadProject fetches the project from the {id} URL parameter. Writes
// the error response and returns nil when the request cannot proceed.
func (h *Handler) loadProject(w http.ResponseWriter, r *http.Request) *models.Project {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid project id")
		return nil
	}

	project, err := h.storage.Projects().GetByID(r.Context(), projectID)
	if err != nil {
		log.Printf("get project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "project not found")
		return nil
	}
	return project
}

// List returns the active projects the caller can read, with the
// caller's role on each.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	projects, err := h.storage.Projects().List(ctx, true)
	if err != nil {
		log.Printf("list projects error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := []*ProjectResponse{}
	for _, p := range projects {
		role, err := h.service.Resolve(ctx, accountID, p)
		if err != nil {
			log.Printf("list projects error: resolve %s: %v", p.Name, err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if role == models.RoleNone {
			continue
		}
		resp = append(resp, projectToResponse(p, role))
	}

	jsonOK(w, resp)
}

// Create creates a new project owned by the caller, together with its
// admins and users groups.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "name is required")
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	project, err := h.service.Create(ctx, accountID, name, strings.TrimSpace(req.Description), true)
	switch {
	case errors.Is(err, projectsvc.ErrNameTaken):
		jsonError(w, http.StatusConflict, errCodeConflict, "project name already exists")
		return
	case errors.Is(err, projectsvc.ErrGroupExists):
		jsonError(w, http.StatusConflict, errCodeConflict, "a group for that project name already exists")
		return
	case errors.Is(err, projectsvc.ErrDescriptionTooLong):
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	case err != nil:
		log.Printf("create project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project created: %s (%d) by %s", project.Name, project.ID, accountID)

	jsonCreated(w, projectToResponse(project, models.RoleOwner))
}

// GetByID returns a single project if the caller can read it.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	project := h.loadProject(w, r)
	if project == nil {
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	role, err := h.service.Resolve(ctx, accountID, project)
	if err != nil {
		log.Printf("get project error: resolve: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	canRead, err := h.service.CanRead(ctx, accountID, project)
	if err != nil {
		log.Printf("get project error: resolve read: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if !canRead {
		jsonForbidden(w)
		return
	}

	jsonOK(w, projectToResponse(project, role))
}

// Update changes a project's description if the caller may update it.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	project := h.loadProject(w, r)
	if project == nil {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	canUpdate, err := h.service.CanUpdate(ctx, accountID, project)
	if err != nil {
		log.Printf("update project error: resolve: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if !canUpdate {
		jsonForbidden(w)
		return
	}

	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if len(desc) > models.MaxDescriptionLength {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "description too long")
			return
		}
		project.Description = desc
	}

	if err := h.storage.Projects().Update(ctx, project); err != nil {
		log.Printf("update project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	role, err := h.service.Resolve(ctx, accountID, project)
	if err != nil {
		role = models.RoleNone
	}

	log.Printf("project updated: %s (%d)", project.Name, project.ID)

	jsonOK(w, projectToResponse(project, role))
}

// Delete removes a project. Only the owner may delete.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	project := h.loadProject(w, r)
	if project == nil {
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	canDelete, err := h.service.CanDelete(ctx, accountID, project)
	if err != nil {
		log.Printf("delete project error: resolve: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if !canDelete {
		jsonForbidden(w)
		return
	}

	if err := h.service.Delete(ctx, project.ID); err != nil {
		log.Printf("delete project error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project deleted: %s (%d) by %s", project.Name, project.ID, accountID)

	jsonNoContent(w)
}

// Members lists the accounts in the project's admins and users groups.
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	project := h.loadProject(w, r)
	if project == nil {
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	canRead, err := h.service.CanRead(ctx, accountID, project)
	if err != nil {
		log.Printf("project members error: resolve: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if !canRead {
		jsonForbidden(w)
		return
	}

	admins, err := h.storage.Groups().Members(ctx, project.AdminGroup)
	if err != nil {
		log.Printf("project members error: admins: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	users, err := h.storage.Groups().Members(ctx, project.UserGroup)
	if err != nil {
		log.Printf("project members error: users: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonOK(w, &MembersResponse{
		Admins: memberList(admins),
		Users:  memberList(users),
	})
}

// SetAdmins replaces the project's admins group membership.
func (h *Handler) SetAdmins(w http.ResponseWriter, r *http.Request) {
	h.setMembers(w, r, true)
}

// SetUsers replaces the project's users group membership.
func (h *Handler) SetUsers(w http.ResponseWriter, r *http.Request) {
	h.setMembers(w, r, false)
}

func (h *Handler) setMembers(w http.ResponseWriter, r *http.Request, admins bool) {
	project := h.loadProject(w, r)
	if project == nil {
		return
	}

	var req MembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.AccountIDs == nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "account_ids is required")
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	canUpdate, err := h.service.CanUpdate(ctx, accountID, project)
	if err != nil {
		log.Printf("set members error: resolve: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if !canUpdate {
		jsonForbidden(w)
		return
	}

	// All listed accounts must exist.
	for _, id := range req.AccountIDs {
		account, err := h.storage.Accounts().GetByID(ctx, id)
		if err != nil {
			log.Printf("set members error: check account: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if account == nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "unknown account: "+id)
			return
		}
	}

	if admins {
		err = h.service.SetAdminMembers(ctx, project.ID, req.AccountIDs)
	} else {
		err = h.service.SetUserMembers(ctx, project.ID, req.AccountIDs)
	}
	if err != nil {
		log.Printf("set members error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("project %d members replaced (admins=%v) by %s", project.ID, admins, accountID)

	jsonNoContent(w)
}

func projectToResponse(p *models.Project, role models.Role) *ProjectResponse {
	resp := &ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if role != models.RoleNone {
		resp.Role = role.String()
	}
	return resp
}

func memberList(accounts []*models.Account) []*MemberResponse {
	resp := make([]*MemberResponse, len(accounts))
	for i, a := range accounts {
		resp[i] = &MemberResponse{
			AccountID: a.ID,
			Username:  a.Username,
			Email:     a.Email,
		}
	}
	return resp
}
