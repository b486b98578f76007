// Package middleware provides session middleware for the browser surface.
package middleware

import (
	"context"
	"net/http"

	"github.com/buildgate/buildgate/internal/web/handlers"
	"github.com/buildgate/buildgate/internal/web/session"
)

func RequireSession(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie("session_id")
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sess, ok := store.Get(cookie.Value)
			if !ok {
				// Clear invalid cookie
				http.SetCookie(w, &http.Cookie{
					Name:   "session_id",
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// Add session to context
			ctx := context.WithValue(r.Context(), handlers.SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff ensures the session belongs to a staff account.
// Must be used after RequireSession middleware.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := handlers.GetSession(r)
		if sess == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !sess.Staff && !sess.Superuser {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
