package auth

import (
	"fmt"
	"strings"
)

// ValidationError reports every violated rule together, not just the
// first, so clients can surface the full policy in one round trip.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// NewValidationError creates a ValidationError from the given rule
// violations.
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// ConflictError indicates a uniqueness violation: duplicate username or
// email on create, or an email collision on update.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "conflict"
	}
	return fmt.Sprintf("%s %q is already taken", e.Field, e.Value)
}

// NewConflictError creates a ConflictError for the given field/value.
func NewConflictError(field, value string) *ConflictError {
	return &ConflictError{Field: field, Value: value}
}

// NotFoundError indicates the operation targeted a user, token, or key
// that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError for the given resource/id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// authenticationFailedMessage is the single message every
// AuthenticationError carries. Which check failed (signature, expiry,
// revocation, unknown credential) is never exposed, so the error cannot
// be used as an oracle.
const authenticationFailedMessage = "authentication failed"

// AuthenticationError indicates a missing, malformed, expired, revoked,
// or invalid-signature credential. The message is deliberately generic.
type AuthenticationError struct {
	// cause is retained for server-side logging only and never
	// rendered in Error().
	cause error
}

func (e *AuthenticationError) Error() string {
	return authenticationFailedMessage
}

// Unwrap exposes the internal cause to errors.Is/As for logging and
// tests. HTTP responses must use Error(), which stays generic.
func (e *AuthenticationError) Unwrap() error {
	return e.cause
}

// NewAuthenticationError creates an AuthenticationError. The optional
// cause is kept for logs only.
func NewAuthenticationError(cause error) *AuthenticationError {
	return &AuthenticationError{cause: cause}
}

// AuthorizationError indicates a valid identity with insufficient role.
// Unlike AuthenticationError it names the minimum role required.
type AuthorizationError struct {
	RequiredRole Role
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("insufficient role: %s or higher required", e.RequiredRole)
}

// NewAuthorizationError creates an AuthorizationError naming the
// minimum role.
func NewAuthorizationError(required Role) *AuthorizationError {
	return &AuthorizationError{RequiredRole: required}
}
