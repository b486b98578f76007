package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/web/session"
)

// Context keys for storing account information.
type contextKey string

const (
	accountIDKey contextKey = "account_id"
	usernameKey  contextKey = "username"
	staffKey     contextKey = "staff"
	superuserKey contextKey = "superuser"
	claimsKey    contextKey = "claims"
)

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": "invalid or expired token",
		},
	})
}

// jsonForbidden writes a forbidden error response.
func jsonForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "FORBIDDEN",
			"message": "access denied",
		},
	})
}

// WithIdentity stamps the authenticated principal into the context.
func WithIdentity(ctx context.Context, accountID, username string, staff, superuser bool) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	ctx = context.WithValue(ctx, usernameKey, username)
	ctx = context.WithValue(ctx, staffKey, staff)
	ctx = context.WithValue(ctx, superuserKey, superuser)
	return ctx
}

// JWTAuth returns middleware that validates JWT tokens.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				jsonUnauthorized(w)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				jsonUnauthorized(w)
				return
			}

			tokenString := parts[1]

			// Validate token
			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				log.Printf("JWT auth failed for %s: %v", r.RemoteAddr, err)
				jsonUnauthorized(w)
				return
			}

			ctx := WithIdentity(r.Context(), claims.AccountID, claims.Username, claims.Staff, claims.Superuser)
			ctx = context.WithValue(ctx, claimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// JWTOrSessionAuth returns middleware that validates JWT tokens or session cookies.
// This allows both API clients (using JWT) and the browser UI (using a session) to
// reach the same endpoints.
func JWTOrSessionAuth(jwtService *auth.JWTService, sessions *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try JWT first
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					claims, err := jwtService.ValidateToken(parts[1])
					if err == nil {
						ctx := WithIdentity(r.Context(), claims.AccountID, claims.Username, claims.Staff, claims.Superuser)
						ctx = context.WithValue(ctx, claimsKey, claims)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
					log.Printf("JWT validation failed for %s: %v", r.RemoteAddr, err)
				}
			}

			// Try session cookie as fallback
			if sessions != nil {
				cookie, err := r.Cookie("session_id")
				if err == nil && cookie.Value != "" {
					sess, ok := sessions.Get(cookie.Value)
					if ok {
						ctx := WithIdentity(r.Context(), sess.AccountID, sess.Username, sess.Staff, sess.Superuser)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
					log.Printf("Session not found or expired for %s: %s...", r.RemoteAddr, cookie.Value[:8])
				}
			}

			jsonUnauthorized(w)
		})
	}
}

// GetAccountID returns the account ID from context.
func GetAccountID(ctx context.Context) string {
	if v := ctx.Value(accountIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUsername returns the username from context.
func GetUsername(ctx context.Context) string {
	if v := ctx.Value(usernameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsStaff reports whether the authenticated account has staff rights.
func IsStaff(ctx context.Context) bool {
	if v := ctx.Value(staffKey); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// IsSuperuser reports whether the authenticated account is a superuser.
func IsSuperuser(ctx context.Context) bool {
	if v := ctx.Value(superuserKey); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}
