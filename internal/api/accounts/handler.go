package accounts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/api/middleware"
	"github.com/buildgate/buildgate/internal/models"
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

// Error codes
const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
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

// AccountResponse is an account without sensitive fields.
type AccountResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	State     string `json:"state"`
	Staff     bool   `json:"staff"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Handler handles self-service account endpoints.
type Handler struct {
	storage storage.Storage
	service *accountsvc.Service
}

// NewHandler creates a new account handler.
func NewHandler(store storage.Storage, service *accountsvc.Service) *Handler {
	return &Handler{storage: store, service: service}
}

// RegisterRequest is the request body for self-registration.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// UpdateRequest is the request body for profile updates.
type UpdateRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ChangePasswordRequest is the request body for changing password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register handles self-registration. The account starts out inactive
// and must confirm its email address and then be approved by staff.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := ValidateUsername(req.Username); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateEmail(req.Email); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateName("first_name", req.FirstName); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateName("last_name", req.LastName); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := auth.ValidatePasswordOrError(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	account, err := h.service.Register(r.Context(),
		strings.TrimSpace(req.Username),
		strings.TrimSpace(req.Email),
		strings.TrimSpace(req.FirstName),
		strings.TrimSpace(req.LastName),
		req.Password)
	switch {
	case errors.Is(err, accountsvc.ErrUsernameTaken):
		jsonError(w, http.StatusConflict, errCodeConflict, "username already exists")
		return
	case errors.Is(err, accountsvc.ErrEmailTaken):
		jsonError(w, http.StatusConflict, errCodeConflict, "email already exists")
		return
	case err != nil:
		log.Printf("register error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account registered: %s (%s)", account.Username, account.ID)

	jsonCreated(w, accountToResponse(account))
}

// Activate confirms an account's email address using the activation
// key from the registration mail. Re-visiting an already used key
// succeeds only while the account is fully active.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	account, err := h.service.Activate(r.Context(), key)
	if errors.Is(err, accountsvc.ErrInvalidKey) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "invalid or expired activation key")
		return
	}
	if err != nil {
		log.Printf("activate error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account activated: %s (%s)", account.Username, account.ID)

	jsonOK(w, accountToResponse(account))
}

// GetCurrent returns the authenticated account.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	account, err := h.storage.Accounts().GetByID(ctx, accountID)
	if err != nil {
		log.Printf("get current account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if account == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	}

	jsonOK(w, accountToResponse(account))
}

// UpdateCurrent updates the authenticated account's profile fields.
// The username is fixed at registration and cannot change.
func (h *Handler) UpdateCurrent(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := ValidateEmail(req.Email); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateName("first_name", req.FirstName); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateName("last_name", req.LastName); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	account, err := h.storage.Accounts().GetByID(ctx, accountID)
	if err != nil {
		log.Printf("update account error: get account: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if account == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email != account.Email {
		existing, err := h.storage.Accounts().GetByEmail(ctx, email)
		if err != nil {
			log.Printf("update account error: check email: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if existing != nil {
			jsonError(w, http.StatusConflict, errCodeConflict, "email already exists")
			return
		}
	}

	account.Email = email
	account.FirstName = strings.TrimSpace(req.FirstName)
	account.LastName = strings.TrimSpace(req.LastName)
	account.UpdatedAt = time.Now()

	if err := h.storage.Accounts().Update(ctx, account); err != nil {
		log.Printf("update account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonOK(w, accountToResponse(account))
}

// ChangePassword changes the authenticated account's password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "current_password is required")
		return
	}
	if err := auth.ValidatePasswordOrError(req.NewPassword); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	account, err := h.storage.Accounts().GetByID(ctx, accountID)
	if err != nil {
		log.Printf("change password error: get account: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if account == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	}

	// Federated accounts have no local password to verify against.
	if !account.HasUsableCredential() {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "account has no local password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "current password is incorrect")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("change password error: hash password: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	account.PasswordHash = string(hash)
	account.UpdatedAt = time.Now()

	if err := h.storage.Accounts().Update(ctx, account); err != nil {
		log.Printf("change password error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	// Revoke all refresh tokens (force re-login on other devices)
	if err := h.storage.Tokens().RevokeAllForUser(ctx, accountID); err != nil {
		log.Printf("change password warning: revoke tokens: %v", err)
		// Don't fail the request, password was already changed
	}

	log.Printf("password changed: account %s", account.Username)

	jsonNoContent(w)
}

// DeleteCurrent logically deletes the authenticated account. Accounts
// that still own projects cannot remove themselves.
func (h *Handler) DeleteCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := middleware.GetAccountID(ctx)

	err := h.service.LogicalDelete(ctx, accountID)
	var owns *accountsvc.OwnsProjectsError
	switch {
	case errors.As(err, &owns):
		jsonError(w, http.StatusConflict, errCodeConflict, owns.Error())
		return
	case errors.Is(err, accountsvc.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "account not found")
		return
	case err != nil:
		log.Printf("delete account error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("account deleted: %s", accountID)

	jsonNoContent(w)
}

// accountToResponse converts an Account to AccountResponse.
func accountToResponse(a *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		State:     string(a.State),
		Staff:     a.Staff,
		CreatedAt: a.DateJoined.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}
