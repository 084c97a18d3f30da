package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/metricat/metricat/pkg/auth"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// ErrorResponse is the standardized error body. Details carries the
// individual rule violations of a ValidationError.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// WriteDomainError maps a credential domain error to its HTTP status
// and writes the response. The error's own message is used verbatim, so
// AuthenticationError stays generic and AuthorizationError names the
// required role. Unrecognized errors become an opaque 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	var (
		validation *auth.ValidationError
		conflict   *auth.ConflictError
		notFound   *auth.NotFoundError
		authnErr   *auth.AuthenticationError
		authzErr   *auth.AuthorizationError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorResponse(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Details: validation.Violations,
		})
	case errors.As(err, &authnErr):
		WriteErrorMessage(w, http.StatusUnauthorized, authnErr.Error())
	case errors.As(err, &authzErr):
		WriteErrorMessage(w, http.StatusForbidden, authzErr.Error())
	case errors.As(err, &notFound):
		WriteErrorMessage(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		WriteErrorMessage(w, http.StatusConflict, conflict.Error())
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}
