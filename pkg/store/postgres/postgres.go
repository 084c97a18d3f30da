// Package postgres implements the CredentialStore contract on
// PostgreSQL. Uniqueness invariants are enforced by unique indexes, so
// they hold under concurrent multi-process access, unlike the file
// backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/metricat/metricat/pkg/auth"
)

// Config holds database connection configuration.
type Config struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// Store is the PostgreSQL-backed credential store.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool, verifies connectivity, and runs any
// pending schema migrations.
func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres store requires a connection URL")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection without running
// migrations. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = "id, username, email, password_hash, full_name, role, status, created_at, updated_at, last_login_at, metadata"

// CreateUser inserts a user. Unique-index violations on username or
// email surface as ConflictError.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	metadata, err := marshalMetadata(user.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, full_name, role, status, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.FullName,
		user.Role, user.Status, user.CreatedAt, user.UpdatedAt, metadata,
	)
	if err != nil {
		if field := uniqueViolationField(err); field != "" {
			value := user.Username
			if field == "email" {
				value = user.Email
			}
			return auth.NewConflictError(field, value)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByID returns the user or nil.
func (s *Store) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// FindUserByUsername matches case-insensitively via the lower() index.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1)", username))
}

// FindUserByEmail matches case-insensitively via the lower() index.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
}

// UpdateUser applies the mutable fields. Returns nil when the id does
// not exist; an email collision with another user is a ConflictError.
// The password hash is untouched: that mutation goes through
// ChangePassword only.
func (s *Store) UpdateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	metadata, err := marshalMetadata(user.Metadata)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = $2, full_name = $3, role = $4, status = $5, updated_at = $6, metadata = $7
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, user.Email, user.FullName, user.Role, user.Status, user.UpdatedAt, metadata,
	)
	updated, err := s.scanUser(row)
	if err != nil {
		if uniqueViolationField(err) == "email" {
			return nil, auth.NewConflictError("email", user.Email)
		}
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes the user; refresh tokens and API keys go with it
// through the ON DELETE CASCADE references.
func (s *Store) DeleteUser(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// UpdateLastLogin stamps last_login_at, failing with NotFoundError for
// an unknown id.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return requireRow(res, "user", id)
}

// ChangePassword replaces the password hash, failing with NotFoundError
// for an unknown id.
func (s *Store) ChangePassword(ctx context.Context, id string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1", id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	return requireRow(res, "user", id)
}

// ListUsers filters by role/status and pages with offset+limit, stably
// ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, filter auth.ListUsersFilter) ([]*auth.User, int, error) {
	var conditions []string
	var args []interface{}
	if filter.Role != "" {
		args = append(args, filter.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY created_at, id LIMIT $%d OFFSET $%d",
		userColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, total, nil
}

// SaveRefreshToken inserts a refresh-token record.
func (s *Store) SaveRefreshToken(ctx context.Context, token *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, token_hash, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		token.TokenID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns nil for revoked or expired records even
// though the row physically remains until swept.
func (s *Store) FindRefreshToken(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, user_id, token_hash, created_at, expires_at, revoked
		FROM refresh_tokens
		WHERE token_id = $1 AND NOT revoked AND expires_at > NOW()`,
		tokenID,
	).Scan(&t.TokenID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &t, nil
}

// RevokeRefreshToken is idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = TRUE WHERE token_id = $1 AND NOT revoked", tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens bulk-revokes a user's records, used on
// logout-everywhere and password change.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND NOT revoked", userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

const apiKeyColumns = "key_id, user_id, key_hash, name, description, scopes, revoked, created_at, expires_at, last_used_at"

// SaveAPIKey inserts an API-key record.
func (s *Store) SaveAPIKey(ctx context.Context, key *auth.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	if key.Scopes == nil {
		scopes = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, user_id, key_hash, name, description, scopes, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.KeyID, key.UserID, key.KeyHash, key.Name, key.Description, scopes,
		key.Revoked, key.CreatedAt, key.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// FindAPIKeyByID returns the key or nil, revoked keys included.
func (s *Store) FindAPIKeyByID(ctx context.Context, keyID string) (*auth.APIKey, error) {
	return s.scanAPIKey(s.db.QueryRowContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE key_id = $1", keyID))
}

// FindAPIKeyByHash authenticates a key by hash and stamps last_used_at
// in the same statement. The write-on-read is deliberate: a successful
// hash lookup is a successful authentication.
func (s *Store) FindAPIKeyByHash(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	return s.scanAPIKey(s.db.QueryRowContext(ctx, `
		UPDATE api_keys SET last_used_at = NOW()
		WHERE key_hash = $1 AND NOT revoked AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING `+apiKeyColumns,
		keyHash,
	))
}

// ListAPIKeysForUser returns all of the user's keys, newest first.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID string) ([]*auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*auth.APIKey
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey is idempotent.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked = TRUE WHERE key_id = $1 AND NOT revoked", keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// CleanupExpired removes expired refresh-token rows (revoked ones too,
// once past expiry they carry no audit value) and expired API keys.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < NOW() OR revoked")
	if err != nil {
		return 0, fmt.Errorf("failed to sweep refresh tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < NOW()")
	if err != nil {
		return removed, fmt.Errorf("failed to sweep api keys: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}

	return removed, nil
}

// CountActiveCredentials reports how many refresh tokens and API keys
// are currently usable: not revoked and not past expiry.
func (s *Store) CountActiveCredentials(ctx context.Context) (int, int, error) {
	var tokens, keys int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE NOT revoked AND expires_at > NOW()").Scan(&tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count refresh tokens: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM api_keys WHERE NOT revoked AND (expires_at IS NULL OR expires_at > NOW())").Scan(&keys)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return tokens, keys, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanUser(row scanner) (*auth.User, error) {
	var (
		user      auth.User
		lastLogin sql.NullTime
		metadata  []byte
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.FullName,
		&user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt, &lastLogin, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &user.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user metadata: %w", err)
		}
	}
	return &user, nil
}

func (s *Store) scanAPIKey(row scanner) (*auth.APIKey, error) {
	var (
		key       auth.APIKey
		scopes    []byte
		expiresAt sql.NullTime
		lastUsed  sql.NullTime
	)
	err := row.Scan(
		&key.KeyID, &key.UserID, &key.KeyHash, &key.Name, &key.Description,
		&scopes, &key.Revoked, &key.CreatedAt, &expiresAt, &lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal api key scopes: %w", err)
		}
	}
	return &key, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user metadata: %w", err)
	}
	return data, nil
}

// uniqueViolationField maps a pq unique-violation error to the user
// field whose index was hit, or "" for any other error.
func uniqueViolationField(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return ""
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return "email"
	case strings.Contains(pqErr.Constraint, "username"):
		return "username"
	default:
		return "username"
	}
}

// requireRow converts a zero-row update into NotFoundError.
func requireRow(res sql.Result, resource, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return auth.NewNotFoundError(resource, id)
	}
	return nil
}
