package auth

import (
	"context"
	"time"
)

// Role is an account capability level. Roles are totally ordered:
// viewer < editor < admin.
type Role string

const (
	RoleViewer Role = "viewer" // Read-only access to the catalog
	RoleEditor Role = "editor" // Can create and update catalog entries
	RoleAdmin  Role = "admin"  // Full access, including identity management
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleEditor: 1,
	RoleAdmin:  2,
}

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the capability of min.
// Unknown roles never satisfy any requirement.
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	mr, ok := roleRank[min]
	if !ok {
		return false
	}
	return rr >= mr
}

// Status is an account lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User is an identity record. Username and email are each globally
// unique under case-insensitive comparison; the store backends enforce
// this.
type User struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	FullName     string            `json:"full_name,omitempty"`
	Role         Role              `json:"role"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LastLoginAt  *time.Time        `json:"last_login_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RefreshToken is the server-side record proving a refresh token was
// legitimately issued. TokenHash is the SHA-256 of the full signed
// token string, never the token itself.
type RefreshToken struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// APIKey is a long-lived credential for non-interactive access. Only
// the SHA-256 hash of the raw key is stored; the raw key material is
// returned to the caller exactly once, at creation.
type APIKey struct {
	KeyID       string     `json:"key_id"`
	UserID      string     `json:"user_id"`
	KeyHash     string     `json:"-"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Scopes      []string   `json:"scopes"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// HasScope reports whether the key carries the named scope. A key with
// no scopes is unrestricted, matching how keys behaved before scopes
// existed.
func (k *APIKey) HasScope(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// Identity is a resolved, authenticated caller. For the access-token
// fast path it is built entirely from token claims; for API keys it is
// loaded from the store and carries the key's scopes.
type Identity struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     Role     `json:"role"`
	APIKeyID string   `json:"api_key_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// TokenPair is the result of any operation that issues credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ListUsersFilter narrows and pages a user listing. Zero values mean
// "no filter"; Limit 0 falls back to the store default.
type ListUsersFilter struct {
	Role   Role
	Status Status
	Offset int
	Limit  int
}

// CredentialStore is the persistence contract the auth subsystem
// depends on. Two interchangeable backends exist under pkg/store: a
// single-process file-backed store and a PostgreSQL store. Callers
// depend only on this interface.
//
// Find-style methods return (nil, nil) on a miss so callers can
// distinguish "absent" from infrastructure failure; mutating methods
// that target a specific row fail with NotFoundError when the row does
// not exist.
type CredentialStore interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) (*User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	ChangePassword(ctx context.Context, id string, passwordHash string) error
	ListUsers(ctx context.Context, filter ListUsersFilter) ([]*User, int, error)

	// Refresh tokens
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error

	// API keys
	SaveAPIKey(ctx context.Context, key *APIKey) error
	FindAPIKeyByID(ctx context.Context, keyID string) (*APIKey, error)
	FindAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeysForUser(ctx context.Context, userID string) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error

	// CleanupExpired removes refresh-token and API-key rows whose
	// expiry has passed. Best-effort housekeeping; safe to run on a
	// schedule. Returns the number of rows removed.
	CleanupExpired(ctx context.Context) (int, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
