package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RequireStaff allows only staff accounts through. Superusers count
// as staff.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if IsStaff(ctx) || IsSuperuser(ctx) {
			next.ServeHTTP(w, r)
			return
		}
		jsonForbidden(w)
	})
}

// RequireSuperuser allows only superuser accounts through.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsSuperuser(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		jsonForbidden(w)
	})
}

// RequireSelfOrStaff allows access when the authenticated account is
// staff or when the {id} URL parameter names its own account.
func RequireSelfOrStaff(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if IsStaff(ctx) || IsSuperuser(ctx) {
				next.ServeHTTP(w, r)
				return
			}
			if id := chi.URLParam(r, param); id != "" && id == GetAccountID(ctx) {
				next.ServeHTTP(w, r)
				return
			}
			jsonForbidden(w)
		})
	}
}
