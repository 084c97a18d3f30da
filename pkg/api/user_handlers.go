package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/httputil"
	"github.com/metricat/metricat/pkg/observability"
)

// UserHandlers handles administrative user management
type UserHandlers struct {
	service *auth.Service
	logger  *observability.Logger
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(service *auth.Service, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{service: service, logger: logger}
}

// RegisterRoutes registers user management routes on the admin router
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.list).Methods("GET")
	router.HandleFunc("/users/{id}", h.get).Methods("GET")
	router.HandleFunc("/users/{id}", h.update).Methods("PUT")
	router.HandleFunc("/users/{id}", h.delete).Methods("DELETE")
}

// list handles GET /api/v1/users with optional role and status
// filters plus limit/offset pagination.
func (h *UserHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r, 50, 200)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := auth.ListUsersFilter{
		Role:   auth.Role(httputil.ParseQueryString(r, "role", "")),
		Status: auth.Status(httputil.ParseQueryString(r, "status", "")),
		Limit:  limit,
		Offset: offset,
	}

	users, total, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users":  users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// get handles GET /api/v1/users/{id}
func (h *UserHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// update handles PUT /api/v1/users/{id}. Absent fields are left
// unchanged; the password is never writable here.
func (h *UserHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req auth.UpdateUserInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// delete handles DELETE /api/v1/users/{id}. The store cascades to the
// user's refresh tokens and API keys.
func (h *UserHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
