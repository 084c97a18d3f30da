// Package httputil provides HTTP utilities for standardized request and
// response handling.
//
// # Domain Errors
//
// The central piece is WriteDomainError, which maps the credential
// error taxonomy onto HTTP status codes in one place:
//
//	ValidationError     -> 400
//	AuthenticationError -> 401
//	AuthorizationError  -> 403
//	NotFoundError       -> 404
//	ConflictError       -> 409
//	anything else       -> 500
//
// Handlers return domain errors and never pick status codes themselves:
//
//	user, err := svc.GetUser(r.Context(), id)
//	if err != nil {
//		httputil.WriteDomainError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, user)
//
// # Request Parsing
//
// JSON parsing:
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path and query parameters:
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	limit := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication, authorization, and rate limiting
package httputil
