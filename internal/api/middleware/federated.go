package middleware

import (
	"context"
	"net/http"
)

const federatedIDKey contextKey = "federated_id"

// DefaultFederatedHeader is the header the identity provider proxy sets
// after a successful federated sign-on.
const DefaultFederatedHeader = "X-Persistent-Id"

// FederatedHeader returns middleware that requires the identity provider
// header to be present. The header value is the opaque persistent
// identifier asserted by the provider; requests without it never reach
// the federated handlers.
func FederatedHeader(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultFederatedHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				jsonForbidden(w)
				return
			}
			ctx := context.WithValue(r.Context(), federatedIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetFederatedID returns the identity provider's persistent identifier
// from context.
func GetFederatedID(ctx context.Context) string {
	if v := ctx.Value(federatedIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
