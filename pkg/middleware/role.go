package middleware

import (
	"net/http"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/httputil"
)

// RequireRole gates a route behind a minimum role. Anonymous requests
// get 401; authenticated callers below the minimum get 403 with the
// required role named in the body. Must run after Authenticator.
func RequireRole(min auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "authentication failed")
				return
			}
			if !identity.Role.AtLeast(min) {
				httputil.WriteDomainError(w, auth.NewAuthorizationError(min))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope gates a route behind an API-key scope. Bearer-token
// callers pass: scopes narrow API keys only. Must run after
// Authenticator.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "authentication failed")
				return
			}
			if identity.APIKeyID != "" && !hasScope(identity.Scopes, scope) {
				httputil.WriteForbidden(w, "api key lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasScope(scopes []string, scope string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}
