package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metricat/metricat/pkg/observability"
)

// Service orchestrates the user-facing credential operations:
// registration, login, refresh rotation, logout, password change, and
// API key management. It composes the PasswordHasher, TokenCodec, and
// a CredentialStore; it holds no state of its own.
type Service struct {
	store   CredentialStore
	codec   *TokenCodec
	hasher  *PasswordHasher
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the account lifecycle service.
func NewService(store CredentialStore, codec *TokenCodec, hasher *PasswordHasher, logger *observability.Logger) *Service {
	return &Service{
		store:  store,
		codec:  codec,
		hasher: hasher,
		logger: logger,
	}
}

// SetMetrics attaches Prometheus collectors for login attempts, token
// issuance, and refresh rotations. Without it the service runs
// unmetered.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *Service) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countRotation(result string) {
	if s.metrics != nil {
		s.metrics.TokenRotationsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countIssued(kind string) {
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(kind).Inc()
	}
}

// Codec exposes the token codec for callers that only need stateless
// verification (the access-token fast path in middleware).
func (s *Service) Codec() *TokenCodec { return s.codec }

// RegisterInput is the payload for Register. Role defaults to viewer
// when empty.
type RegisterInput struct {
	Username string            `json:"username"`
	Email    string            `json:"email"`
	Password string            `json:"password"`
	FullName string            `json:"full_name,omitempty"`
	Role     Role              `json:"role,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Register validates the password policy, hashes the password, creates
// the user, and issues an initial token pair. Duplicate username or
// email surfaces as ConflictError from the store.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, *TokenPair, error) {
	var violations []string
	if strings.TrimSpace(in.Username) == "" {
		violations = append(violations, "username is required")
	}
	if !strings.Contains(in.Email, "@") {
		violations = append(violations, "email is invalid")
	}
	role := in.Role
	if role == "" {
		role = RoleViewer
	}
	if !role.Valid() {
		violations = append(violations, fmt.Sprintf("role %q is unknown", in.Role))
	}
	if err := ValidatePassword(in.Password); err != nil {
		if verr, ok := err.(*ValidationError); ok {
			violations = append(violations, verr.Violations...)
		} else {
			return nil, nil, err
		}
	}
	if len(violations) > 0 {
		return nil, nil, &ValidationError{Violations: violations}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         role,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     in.Metadata,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, pair, nil
}

// Login authenticates by username or email, verifies the password,
// stamps last_login_at, and issues a token pair. Every failure mode
// (unknown user, wrong password, non-active account) is the same
// generic AuthenticationError.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (*User, *TokenPair, error) {
	user, err := s.store.FindUserByUsername(ctx, usernameOrEmail)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		user, err = s.store.FindUserByEmail(ctx, usernameOrEmail)
		if err != nil {
			return nil, nil, err
		}
	}
	if user == nil {
		s.countLogin("failure")
		return nil, nil, NewAuthenticationError(fmt.Errorf("unknown user %q", usernameOrEmail))
	}
	if user.Status != StatusActive {
		s.countLogin("failure")
		return nil, nil, NewAuthenticationError(fmt.Errorf("user %s is %s", user.ID, user.Status))
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		s.countLogin("failure")
		return nil, nil, NewAuthenticationError(fmt.Errorf("wrong password for user %s", user.ID))
	}

	now := time.Now().UTC()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, nil, err
	}
	user.LastLoginAt = &now

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.countLogin("success")
	s.logger.WithField("user_id", user.ID).Info("user logged in")
	return user, pair, nil
}

// Refresh rotates a refresh token: it verifies the presented token's
// signature and server-side record, revokes that record, and issues a
// brand-new pair under a new token_id. Revocation happens before
// issuance so a crash mid-rotation fails closed. A second use of the
// same token fails: its record is already revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.countRotation("failure")
		return nil, err
	}

	record, err := s.store.FindRefreshToken(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.countRotation("failure")
		return nil, NewAuthenticationError(fmt.Errorf("refresh token %s revoked, expired, or unknown", claims.TokenID))
	}
	// Signature verification passed above; the stored hash is the
	// second, independent check against the revocation ledger.
	if record.TokenHash != HashCredential(refreshToken) {
		s.countRotation("failure")
		return nil, NewAuthenticationError(fmt.Errorf("refresh token %s hash mismatch", claims.TokenID))
	}
	if record.UserID != claims.UserID {
		s.countRotation("failure")
		return nil, NewAuthenticationError(fmt.Errorf("refresh token %s user mismatch", claims.TokenID))
	}

	user, err := s.store.FindUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != StatusActive {
		s.countRotation("failure")
		return nil, NewAuthenticationError(fmt.Errorf("user %s unavailable", record.UserID))
	}

	if err := s.store.RevokeRefreshToken(ctx, record.TokenID); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	s.countRotation("success")
	s.logger.WithField("user_id", user.ID).Debug("refresh token rotated")
	return pair, nil
}

// Logout revokes the refresh-token record named by the presented token.
// With everywhere set, all of the user's records are revoked instead.
func (s *Service) Logout(ctx context.Context, refreshToken string, everywhere bool) error {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return err
	}
	if everywhere {
		return s.store.RevokeAllRefreshTokens(ctx, claims.UserID)
	}
	return s.store.RevokeRefreshToken(ctx, claims.TokenID)
}

// ChangePassword verifies the current password, persists the new hash,
// and revokes all of the user's refresh tokens so every other session
// must log in again.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return NewNotFoundError("user", userID)
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return NewAuthenticationError(fmt.Errorf("wrong current password for user %s", userID))
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.ChangePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	s.logger.WithField("user_id", userID).Info("password changed, sessions revoked")
	return nil
}

// CreateAPIKeyInput is the payload for CreateAPIKey.
type CreateAPIKeyInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKey generates a new API key for the user and persists its
// hash. The raw key is returned exactly once; it is not recoverable
// afterwards.
func (s *Service) CreateAPIKey(ctx context.Context, userID string, in CreateAPIKeyInput) (*APIKey, string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, "", NewValidationError("name is required")
	}
	raw, hash, err := s.codec.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	key := &APIKey{
		KeyID:       uuid.NewString(),
		UserID:      userID,
		KeyHash:     hash,
		Name:        in.Name,
		Description: in.Description,
		Scopes:      in.Scopes,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.store.SaveAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	s.logger.WithField("user_id", userID).WithField("key_id", key.KeyID).Info("api key created")
	return key, raw, nil
}

// ListAPIKeys returns the user's API keys, hashes excluded by the
// record's JSON shape.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	return s.store.ListAPIKeysForUser(ctx, userID)
}

// RevokeAPIKey revokes a key owned by the caller. Admins may revoke any
// key; other callers get an AuthorizationError for keys they do not
// own.
func (s *Service) RevokeAPIKey(ctx context.Context, caller *Identity, keyID string) error {
	key, err := s.store.FindAPIKeyByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return NewNotFoundError("api key", keyID)
	}
	if key.UserID != caller.UserID && !caller.Role.AtLeast(RoleAdmin) {
		return NewAuthorizationError(RoleAdmin)
	}
	return s.store.RevokeAPIKey(ctx, keyID)
}

// VerifyAccessToken is the stateless fast path: signature and expiry
// only, no store round-trip.
func (s *Service) VerifyAccessToken(token string) (*Identity, error) {
	return s.codec.VerifyAccessToken(token)
}

// ResolveAPIKey authenticates a raw API key: hash lookup (which stamps
// last_used_at in the store), then an owner check. All failures are the
// generic AuthenticationError.
func (s *Service) ResolveAPIKey(ctx context.Context, rawKey string) (*Identity, error) {
	if !s.codec.ValidKeyFormat(rawKey) {
		return nil, NewAuthenticationError(fmt.Errorf("malformed api key"))
	}
	key, err := s.store.FindAPIKeyByHash(ctx, HashCredential(rawKey))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, NewAuthenticationError(fmt.Errorf("api key revoked, expired, or unknown"))
	}
	user, err := s.store.FindUserByID(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != StatusActive {
		return nil, NewAuthenticationError(fmt.Errorf("api key owner %s unavailable", key.UserID))
	}
	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		APIKeyID: key.KeyID,
		Scopes:   key.Scopes,
	}, nil
}

// GetUser returns a user by id, or NotFoundError.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NewNotFoundError("user", id)
	}
	return user, nil
}

// ListUsers pages through users, optionally filtered by role and
// status, ordered by creation time.
func (s *Service) ListUsers(ctx context.Context, filter ListUsersFilter) ([]*User, int, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, 0, NewValidationError(fmt.Sprintf("role %q is unknown", filter.Role))
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, NewValidationError(fmt.Sprintf("status %q is unknown", filter.Status))
	}
	return s.store.ListUsers(ctx, filter)
}

// UpdateUserInput carries the mutable user fields; nil means "leave
// unchanged".
type UpdateUserInput struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Role     *Role   `json:"role,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// UpdateUser applies the given fields. An email collision with another
// user surfaces as ConflictError from the store; an unknown id is
// NotFoundError.
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NewNotFoundError("user", id)
	}

	var violations []string
	if in.Email != nil {
		if !strings.Contains(*in.Email, "@") {
			violations = append(violations, "email is invalid")
		}
		user.Email = *in.Email
	}
	if in.FullName != nil {
		user.FullName = *in.FullName
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			violations = append(violations, fmt.Sprintf("role %q is unknown", *in.Role))
		}
		user.Role = *in.Role
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			violations = append(violations, fmt.Sprintf("status %q is unknown", *in.Status))
		}
		user.Status = *in.Status
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	user.UpdatedAt = time.Now().UTC()
	updated, err := s.store.UpdateUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, NewNotFoundError("user", id)
	}
	return updated, nil
}

// DeleteUser removes a user; the store cascades to the user's refresh
// tokens and API keys.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	removed, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return NewNotFoundError("user", id)
	}
	s.logger.WithField("user_id", id).Info("user deleted, credentials revoked")
	return nil
}

// issuePair signs a new access+refresh pair and persists the refresh
// record.
func (s *Service) issuePair(ctx context.Context, user *User) (*TokenPair, error) {
	access, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	record := &RefreshToken{
		TokenID:   refresh.TokenID,
		UserID:    user.ID,
		TokenHash: HashCredential(refresh.Token),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: refresh.ExpiresAt,
	}
	if err := s.store.SaveRefreshToken(ctx, record); err != nil {
		return nil, err
	}
	s.countIssued("access")
	s.countIssued("refresh")
	return &TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}
