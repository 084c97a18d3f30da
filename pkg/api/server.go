package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/httputil"
	"github.com/metricat/metricat/pkg/middleware"
	"github.com/metricat/metricat/pkg/observability"
)

// ScopeKeysManage is the API-key scope required to create, list, or
// revoke keys through the API. Bearer-token sessions are not scoped
// and always pass.
const ScopeKeysManage = "keys:manage"

// Server wires the credential service into an HTTP API
type Server struct {
	service *auth.Service
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics

	authHandlers   *AuthHandlers
	apiKeyHandlers *APIKeyHandlers
	userHandlers   *UserHandlers

	rateLimit    func(http.Handler) http.Handler
	loginLimiter *middleware.RateLimiter
}

// Option customizes a Server at construction time
type Option func(*Server)

// WithRateLimit applies a global rate limiting middleware to every
// route. Both RateLimitMiddleware and DistributedRateLimitMiddleware
// satisfy the handler shape.
func WithRateLimit(limiter interface {
	Handler(http.Handler) http.Handler
}) Option {
	return func(s *Server) {
		s.rateLimit = limiter.Handler
	}
}

// WithLoginLimiter sets a per-address limiter for the credential
// endpoints (register, login, refresh). These get a much tighter
// budget than the rest of the API.
func WithLoginLimiter(limiter *middleware.RateLimiter) Option {
	return func(s *Server) {
		s.loginLimiter = limiter
	}
}

// NewServer creates a new API server
func NewServer(service *auth.Service, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		service: service,
		router:  mux.NewRouter(),
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.authHandlers = NewAuthHandlers(service, logger)
	s.apiKeyHandlers = NewAPIKeyHandlers(service, logger)
	s.userHandlers = NewUserHandlers(service, logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
	}
	if s.rateLimit != nil {
		s.router.Use(s.rateLimit)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Credential endpoints take no authentication and a tight
	// per-address rate limit.
	public := v1.NewRoute().Subrouter()
	if s.loginLimiter != nil {
		public.Use(s.loginLimitMiddleware)
	}

	// The session endpoint resolves credentials when presented but
	// admits anonymous callers.
	optionalAuthn := middleware.NewAuthenticator(s.service, s.metrics, true)
	optional := v1.NewRoute().Subrouter()
	optional.Use(optionalAuthn.Handler)

	// Everything else requires a valid bearer token or API key.
	authn := middleware.NewAuthenticator(s.service, s.metrics, false)
	protected := v1.NewRoute().Subrouter()
	protected.Use(authn.Handler)

	// Key management is further gated for API-key callers: only keys
	// scoped for it may mint or revoke other keys.
	keys := protected.NewRoute().Subrouter()
	keys.Use(middleware.RequireScope(ScopeKeysManage))

	admin := protected.NewRoute().Subrouter()
	admin.Use(middleware.RequireRole(auth.RoleAdmin))

	s.authHandlers.RegisterRoutes(public, optional, protected)
	s.apiKeyHandlers.RegisterRoutes(keys)
	s.userHandlers.RegisterRoutes(admin)
}

// loginLimitMiddleware applies the login limiter keyed by client
// address.
func (s *Server) loginLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + middleware.ClientIP(r)
		if !s.loginLimiter.Allow(key) {
			if s.metrics != nil {
				s.metrics.RateLimitedTotal.WithLabelValues(r.URL.Path).Inc()
			}
			httputil.WriteTooManyRequests(w, "too many attempts, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router returns the configured handler for use by an http.Server
func (s *Server) Router() http.Handler {
	return s.router
}
