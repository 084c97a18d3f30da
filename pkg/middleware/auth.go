package middleware

import (
	"net/http"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/contextkeys"
	"github.com/metricat/metricat/pkg/httputil"
	"github.com/metricat/metricat/pkg/observability"
)

// Authenticator resolves the caller's identity from either an X-API-Key
// header or an Authorization bearer token. API keys win when both are
// present: a client that sends both has configured a key on purpose.
type Authenticator struct {
	service *auth.Service
	metrics *observability.Metrics
	// optional lets unauthenticated requests through with no identity
	// in context. Used for routes that behave differently for
	// authenticated callers but do not require them.
	optional bool
}

// NewAuthenticator creates authentication middleware backed by the
// credential service. Metrics may be nil.
func NewAuthenticator(service *auth.Service, metrics *observability.Metrics, optional bool) *Authenticator {
	return &Authenticator{
		service:  service,
		metrics:  metrics,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.resolve(r)
		if err != nil {
			a.countFailure(r)
			httputil.WriteDomainError(w, err)
			return
		}
		if identity == nil {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			a.countFailure(r)
			httputil.WriteUnauthorized(w, "authentication failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithIdentity(r.Context(), identity)))
	})
}

// resolve returns (nil, nil) when the request carries no credential at
// all, and an error when it carries one that does not verify.
func (a *Authenticator) resolve(r *http.Request) (*auth.Identity, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return a.service.ResolveAPIKey(r.Context(), apiKey)
	}
	if token := auth.ExtractBearer(r.Header.Get("Authorization")); token != "" {
		return a.service.VerifyAccessToken(token)
	}
	if r.Header.Get("Authorization") != "" {
		// A non-bearer Authorization header is a malformed credential,
		// not an anonymous request.
		return nil, auth.NewAuthenticationError(nil)
	}
	return nil, nil
}

func (a *Authenticator) countFailure(r *http.Request) {
	if a.metrics == nil {
		return
	}
	credential := "bearer"
	if r.Header.Get("X-API-Key") != "" {
		credential = "api_key"
	} else if r.Header.Get("Authorization") == "" {
		credential = "none"
	}
	a.metrics.AuthFailuresTotal.WithLabelValues(credential).Inc()
}

// GetIdentity extracts the authenticated identity from the request
// context, or nil for anonymous requests.
func GetIdentity(r *http.Request) *auth.Identity {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
