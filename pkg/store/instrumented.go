package store

import (
	"context"
	"time"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/observability"
)

// ActiveCounter is implemented by backends that can report how many
// refresh tokens and API keys are currently usable. The counts feed
// the active-credential gauges.
type ActiveCounter interface {
	CountActiveCredentials(ctx context.Context) (refreshTokens, apiKeys int, err error)
}

// Instrumented wraps a credential store and records one observation
// per call: a counter labelled by operation, backend, and outcome,
// plus a duration histogram.
type Instrumented struct {
	inner   auth.CredentialStore
	backend string
	metrics *observability.Metrics
}

// NewInstrumented wraps inner with per-operation metrics. The backend
// label should name the store type ("file" or "postgres"). A nil
// metrics returns inner unwrapped.
func NewInstrumented(inner auth.CredentialStore, backend string, metrics *observability.Metrics) auth.CredentialStore {
	if metrics == nil {
		return inner
	}
	return &Instrumented{inner: inner, backend: backend, metrics: metrics}
}

func (s *Instrumented) observe(operation string, start time.Time, err error) {
	s.metrics.ObserveStoreOperation(operation, s.backend, err, time.Since(start))
}

func (s *Instrumented) CreateUser(ctx context.Context, user *auth.User) error {
	start := time.Now()
	err := s.inner.CreateUser(ctx, user)
	s.observe("create_user", start, err)
	return err
}

func (s *Instrumented) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	start := time.Now()
	user, err := s.inner.FindUserByID(ctx, id)
	s.observe("find_user_by_id", start, err)
	return user, err
}

func (s *Instrumented) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	start := time.Now()
	user, err := s.inner.FindUserByUsername(ctx, username)
	s.observe("find_user_by_username", start, err)
	return user, err
}

func (s *Instrumented) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	start := time.Now()
	user, err := s.inner.FindUserByEmail(ctx, email)
	s.observe("find_user_by_email", start, err)
	return user, err
}

func (s *Instrumented) UpdateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	start := time.Now()
	updated, err := s.inner.UpdateUser(ctx, user)
	s.observe("update_user", start, err)
	return updated, err
}

func (s *Instrumented) DeleteUser(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	removed, err := s.inner.DeleteUser(ctx, id)
	s.observe("delete_user", start, err)
	return removed, err
}

func (s *Instrumented) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	err := s.inner.UpdateLastLogin(ctx, id, at)
	s.observe("update_last_login", start, err)
	return err
}

func (s *Instrumented) ChangePassword(ctx context.Context, id string, passwordHash string) error {
	start := time.Now()
	err := s.inner.ChangePassword(ctx, id, passwordHash)
	s.observe("change_password", start, err)
	return err
}

func (s *Instrumented) ListUsers(ctx context.Context, filter auth.ListUsersFilter) ([]*auth.User, int, error) {
	start := time.Now()
	users, total, err := s.inner.ListUsers(ctx, filter)
	s.observe("list_users", start, err)
	return users, total, err
}

func (s *Instrumented) SaveRefreshToken(ctx context.Context, token *auth.RefreshToken) error {
	start := time.Now()
	err := s.inner.SaveRefreshToken(ctx, token)
	s.observe("save_refresh_token", start, err)
	return err
}

func (s *Instrumented) FindRefreshToken(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	start := time.Now()
	token, err := s.inner.FindRefreshToken(ctx, tokenID)
	s.observe("find_refresh_token", start, err)
	return token, err
}

func (s *Instrumented) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	start := time.Now()
	err := s.inner.RevokeRefreshToken(ctx, tokenID)
	s.observe("revoke_refresh_token", start, err)
	return err
}

func (s *Instrumented) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.inner.RevokeAllRefreshTokens(ctx, userID)
	s.observe("revoke_all_refresh_tokens", start, err)
	return err
}

func (s *Instrumented) SaveAPIKey(ctx context.Context, key *auth.APIKey) error {
	start := time.Now()
	err := s.inner.SaveAPIKey(ctx, key)
	s.observe("save_api_key", start, err)
	return err
}

func (s *Instrumented) FindAPIKeyByID(ctx context.Context, keyID string) (*auth.APIKey, error) {
	start := time.Now()
	key, err := s.inner.FindAPIKeyByID(ctx, keyID)
	s.observe("find_api_key_by_id", start, err)
	return key, err
}

func (s *Instrumented) FindAPIKeyByHash(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	start := time.Now()
	key, err := s.inner.FindAPIKeyByHash(ctx, keyHash)
	s.observe("find_api_key_by_hash", start, err)
	return key, err
}

func (s *Instrumented) ListAPIKeysForUser(ctx context.Context, userID string) ([]*auth.APIKey, error) {
	start := time.Now()
	keys, err := s.inner.ListAPIKeysForUser(ctx, userID)
	s.observe("list_api_keys", start, err)
	return keys, err
}

func (s *Instrumented) RevokeAPIKey(ctx context.Context, keyID string) error {
	start := time.Now()
	err := s.inner.RevokeAPIKey(ctx, keyID)
	s.observe("revoke_api_key", start, err)
	return err
}

func (s *Instrumented) CleanupExpired(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.inner.CleanupExpired(ctx)
	s.observe("cleanup_expired", start, err)
	return removed, err
}

func (s *Instrumented) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := s.inner.HealthCheck(ctx)
	s.observe("health_check", start, err)
	return err
}

// CountActiveCredentials delegates to the wrapped backend when it can
// count, and reports zeros otherwise.
func (s *Instrumented) CountActiveCredentials(ctx context.Context) (int, int, error) {
	counter, ok := s.inner.(ActiveCounter)
	if !ok {
		return 0, 0, nil
	}
	return counter.CountActiveCredentials(ctx)
}

func (s *Instrumented) Close() error {
	return s.inner.Close()
}
