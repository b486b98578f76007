package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"golang.org/x/crypto/bcrypt"
)

type sessionResponse struct {
	Username  string `json:"username"`
	Staff     bool   `json:"staff"`
	Superuser bool   `json:"superuser"`
}

type loginError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// CSRFToken hands the browser client its CSRF token. The client sends
// it back in the X-CSRF-Token header on every mutating request.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": csrf.Token(r)})
}

// HandleLogin signs a browser in with username and password and sets
// the session cookie. Only active accounts with a local password can
// use this entry point.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, loginError{Error: "invalid form data"})
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		writeJSON(w, http.StatusBadRequest, loginError{Error: "username and password are required"})
		return
	}

	if h.lockoutTracker != nil && h.lockoutTracker.IsLocked(username) {
		writeJSON(w, http.StatusTooManyRequests, loginError{Error: "account temporarily locked due to too many failed attempts"})
		return
	}

	account, err := h.storage.Accounts().GetByUsername(r.Context(), username)
	if err != nil || account == nil || !account.IsActive() || !account.HasUsableCredential() {
		if h.lockoutTracker != nil {
			h.lockoutTracker.RecordFailure(username)
		}
		writeJSON(w, http.StatusUnauthorized, loginError{Error: "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if h.lockoutTracker != nil {
			h.lockoutTracker.RecordFailure(username)
		}
		writeJSON(w, http.StatusUnauthorized, loginError{Error: "invalid credentials"})
		return
	}

	if h.lockoutTracker != nil {
		h.lockoutTracker.ClearFailures(username)
	}

	// Invalidate any existing session to prevent session fixation
	if cookie, err := r.Cookie("session_id"); err == nil {
		h.sessions.Delete(cookie.Value)
	}

	rememberMe := r.FormValue("remember_me") == "on"
	sessionTTL := 24 * time.Hour
	maxAge := 86400 // 24 hours
	if rememberMe {
		sessionTTL = 30 * 24 * time.Hour // 30 days
		maxAge = 2592000                 // 30 days
	}

	sess, err := h.sessions.CreateWithTTL(account.ID, account.Username, account.Staff, account.Superuser, sessionTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, loginError{Error: "failed to create session"})
		return
	}

	now := time.Now()
	account.LastLogin = &now
	_ = h.storage.Accounts().Update(r.Context(), account)

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Username:  account.Username,
		Staff:     account.Staff,
		Superuser: account.Superuser,
	})
}

// HandleLogout drops the session and clears the cookie.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session_id"); err == nil {
		h.sessions.Delete(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusNoContent)
}

// ShowSession returns the logged-in session, for the client to restore
// its state after a reload.
func (h *Handler) ShowSession(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r)
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, loginError{Error: "not signed in"})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Username:  sess.Username,
		Staff:     sess.Staff,
		Superuser: sess.Superuser,
	})
}
