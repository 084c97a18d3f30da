// Package api exposes the credential service over HTTP.
//
// # Overview
//
// The Server wraps a mux router with three route groups under
// /api/v1:
//
//   - public credential endpoints (register, login, refresh, logout)
//     with an optional tight per-address rate limit
//   - an optionally-authenticated session endpoint that admits
//     anonymous callers
//   - authenticated endpoints (me, password change, API key
//     management) behind the Authenticator middleware; the key
//     management routes additionally require the keys:manage scope
//     from API-key callers
//   - admin-only user management behind RequireRole(admin)
//
// # Endpoints
//
// Public:
//
//	POST   /api/v1/auth/register
//	POST   /api/v1/auth/login
//	POST   /api/v1/auth/refresh
//	POST   /api/v1/auth/logout
//
// Optionally authenticated:
//
//	GET    /api/v1/auth/session
//
// Authenticated (bearer token or X-API-Key):
//
//	GET    /api/v1/auth/me
//	PUT    /api/v1/auth/password
//
// Authenticated, keys:manage scope for API-key callers:
//
//	POST   /api/v1/apikeys
//	GET    /api/v1/apikeys
//	DELETE /api/v1/apikeys/{id}
//
// Admin:
//
//	GET    /api/v1/users
//	GET    /api/v1/users/{id}
//	PUT    /api/v1/users/{id}
//	DELETE /api/v1/users/{id}
//
// # Usage Example
//
//	server := api.NewServer(service, logger, metrics,
//		api.WithLoginLimiter(middleware.NewRateLimiter(middleware.LoginRateLimitConfig())),
//	)
//	http.ListenAndServe(":8080", server.Router())
//
// Domain errors map to HTTP statuses in httputil.WriteDomainError;
// handlers never build error payloads by hand.
//
// # Related Packages
//
//   - pkg/auth: The credential service behind every handler
//   - pkg/middleware: Authentication and rate limiting
//   - pkg/httputil: Request parsing and response writing
package api
