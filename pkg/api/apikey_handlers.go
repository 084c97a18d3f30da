package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/httputil"
	"github.com/metricat/metricat/pkg/middleware"
	"github.com/metricat/metricat/pkg/observability"
)

// APIKeyHandlers handles API key management
type APIKeyHandlers struct {
	service *auth.Service
	logger  *observability.Logger
}

// NewAPIKeyHandlers creates a new API key handlers instance
func NewAPIKeyHandlers(service *auth.Service, logger *observability.Logger) *APIKeyHandlers {
	return &APIKeyHandlers{service: service, logger: logger}
}

// RegisterRoutes registers API key routes. The router is expected to
// authenticate and to enforce the key-management scope.
func (h *APIKeyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/apikeys", h.create).Methods("POST")
	router.HandleFunc("/apikeys", h.list).Methods("GET")
	router.HandleFunc("/apikeys/{id}", h.revoke).Methods("DELETE")
}

// create handles POST /api/v1/apikeys. The raw key appears in this
// response and nowhere else; only its hash is stored.
func (h *APIKeyHandlers) create(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	var req auth.CreateAPIKeyInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	key, raw, err := h.service.CreateAPIKey(r.Context(), identity.UserID, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"api_key": key,
		"key":     raw,
	})
}

// list handles GET /api/v1/apikeys
func (h *APIKeyHandlers) list(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	keys, err := h.service.ListAPIKeys(r.Context(), identity.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"api_keys": keys})
}

// revoke handles DELETE /api/v1/apikeys/{id}. Owners revoke their own
// keys; admins may revoke anyone's.
func (h *APIKeyHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	keyID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.RevokeAPIKey(r.Context(), identity, keyID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
