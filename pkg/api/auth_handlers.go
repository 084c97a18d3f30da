package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/httputil"
	"github.com/metricat/metricat/pkg/middleware"
	"github.com/metricat/metricat/pkg/observability"
)

// AuthHandlers handles registration, login, and session management
type AuthHandlers struct {
	service *auth.Service
	logger  *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(service *auth.Service, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{service: service, logger: logger}
}

// RegisterRoutes registers authentication routes. Credential
// endpoints go on the public router, session endpoints on the
// authenticated one, and the session check on the optional router
// where anonymous callers are let through.
func (h *AuthHandlers) RegisterRoutes(public, optional, protected *mux.Router) {
	public.HandleFunc("/auth/register", h.register).Methods("POST")
	public.HandleFunc("/auth/login", h.login).Methods("POST")
	public.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	public.HandleFunc("/auth/logout", h.logout).Methods("POST")

	optional.HandleFunc("/auth/session", h.session).Methods("GET")

	protected.HandleFunc("/auth/password", h.changePassword).Methods("PUT")
	protected.HandleFunc("/auth/me", h.me).Methods("GET")
}

// sessionResponse is the payload returned whenever credentials are
// issued.
type sessionResponse struct {
	User   *auth.User      `json:"user"`
	Tokens *auth.TokenPair `json:"tokens"`
}

// register handles POST /api/v1/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	// Self-registration always produces a viewer. Role changes go
	// through the admin user endpoints.
	req.Role = ""

	user, pair, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, sessionResponse{User: user, Tokens: pair})
}

// login handles POST /api/v1/auth/login. The username field also
// accepts an email address.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	user, pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, sessionResponse{User: user, Tokens: pair})
}

// refresh handles POST /api/v1/auth/refresh. The presented token is
// consumed; the response carries a fresh pair.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"tokens": pair})
}

// logout handles POST /api/v1/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
		Everywhere   bool   `json:"everywhere"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken, req.Everywhere); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// changePassword handles PUT /api/v1/auth/password. All of the
// caller's refresh tokens are revoked on success.
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), identity.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "password changed"})
}

// session handles GET /api/v1/auth/session. Unlike /auth/me it never
// rejects: anonymous callers get authenticated=false, while presented
// credentials still have to be valid to reach the handler at all.
func (h *AuthHandlers) session(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteSuccess(w, map[string]interface{}{"authenticated": false})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"authenticated": true,
		"identity":      identity,
	})
}

// me handles GET /api/v1/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	user, err := h.service.GetUser(r.Context(), identity.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":     user,
		"identity": identity,
	})
}
