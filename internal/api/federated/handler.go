// Package federated provides the identity provider sign-on endpoints.
// Requests only arrive here through the proxy that performs the actual
// federated authentication and asserts the persistent identifier header.
package federated

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

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

// Handler handles federated sign-on and registration.
type Handler struct {
	storage      storage.Storage
	service      *accountsvc.Service
	jwtService   *auth.JWTService
	tokenService *auth.TokenService
}

// NewHandler creates a new federated handler.
func NewHandler(store storage.Storage, service *accountsvc.Service, jwt *auth.JWTService, tokens *auth.TokenService) *Handler {
	return &Handler{
		storage:      store,
		service:      service,
		jwtService:   jwt,
		tokenService: tokens,
	}
}

// RegisterRequest is the request body for federated registration. The
// username is taken from the identity provider, not the body.
type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SignOnResponse is returned on successful federated sign-on.
type SignOnResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Username     string `json:"username"`
}

// SignOn exchanges a proxied identity provider assertion for API
// tokens. Unknown identities get 404 so the client can offer
// registration instead.
func (h *Handler) SignOn(w http.ResponseWriter, r *http.Request) {
	externalID := middleware.GetFederatedID(r.Context())

	account, err := h.service.VerifyFederated(r.Context(), externalID)
	if errors.Is(err, accountsvc.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "no account for identity")
		return
	}
	if err != nil {
		log.Printf("federated sign-on error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	if !account.IsActive() {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "account is not active")
		return
	}

	accessToken, err := h.jwtService.GenerateToken(account)
	if err != nil {
		log.Printf("federated sign-on error: generate access token: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	refreshToken, err := h.tokenService.CreateRefreshToken(r.Context(), account.ID)
	if err != nil {
		log.Printf("federated sign-on error: generate refresh token: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("federated sign-on: account %s", account.Username)

	jsonOK(w, &SignOnResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    h.jwtService.TTLSeconds(),
		TokenType:    "Bearer",
		Username:     account.Username,
	})
}

// Register creates an account bound to the asserted identity. The
// account carries no local password and follows the same confirm and
// approve lifecycle as local registrations.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	externalID := middleware.GetFederatedID(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "email is required")
		return
	}

	account, err := h.service.RegisterFederated(r.Context(),
		externalID,
		strings.TrimSpace(req.Email),
		strings.TrimSpace(req.FirstName),
		strings.TrimSpace(req.LastName))
	switch {
	case errors.Is(err, accountsvc.ErrIdentityBound):
		jsonError(w, http.StatusConflict, errCodeConflict, "identity is already bound to an account")
		return
	case errors.Is(err, accountsvc.ErrEmailTaken):
		jsonError(w, http.StatusConflict, errCodeConflict, "email already exists")
		return
	case err != nil:
		log.Printf("federated register error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("federated account registered: %s (%s)", account.Username, account.ID)

	jsonCreated(w, federatedAccountResponse(account))
}

type accountResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	State     string `json:"state"`
}

func federatedAccountResponse(a *models.Account) *accountResponse {
	return &accountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		State:     string(a.State),
	}
}
