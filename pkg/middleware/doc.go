// Package middleware provides HTTP middleware for authentication,
// authorization, and rate limiting.
//
// # Middleware Components
//
// Authenticator: credential resolution
//
//	authn := middleware.NewAuthenticator(service, metrics, false)
//	router.Use(authn.Handler)
//	// Resolves X-API-Key or Bearer token, adds *auth.Identity to the
//	// request context. X-API-Key wins when both are present.
//
// RequireRole: minimum-role gate
//
//	admin.Use(middleware.RequireRole(auth.RoleAdmin))
//	// 401 for anonymous callers, 403 naming the required role otherwise
//
// RequireScope: API-key scope gate
//
//	metrics.Use(middleware.RequireScope("metrics:read"))
//	// Narrows API keys only; bearer-token callers pass
//
// RateLimitMiddleware: in-memory token-bucket rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware(metrics).Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting shared
// across instances
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient, metrics, logger).Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
// Credential endpoints: 10 req/min, 5 burst
//
// # Related Packages
//
//   - pkg/auth: Credential verification
//   - pkg/httputil: Error responses
package middleware
