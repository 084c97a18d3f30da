package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/metricat/metricat/pkg/auth"
)

// FileStore keeps all credential state in a single JSON document on
// disk. Every operation takes the store mutex and mutations rewrite the
// whole document, so the store is consistent within one process but
// must never be shared between processes.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc document
}

// document is the persisted shape. Unlike the auth types it serializes
// the credential hashes, which the API representations deliberately
// omit.
type document struct {
	Users         map[string]*userRecord         `json:"users"`
	RefreshTokens map[string]*refreshTokenRecord `json:"refresh_tokens"`
	APIKeys       map[string]*apiKeyRecord       `json:"api_keys"`
}

type userRecord struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"password_hash"`
	FullName     string            `json:"full_name,omitempty"`
	Role         auth.Role         `json:"role"`
	Status       auth.Status       `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LastLoginAt  *time.Time        `json:"last_login_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type refreshTokenRecord struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

type apiKeyRecord struct {
	KeyID       string     `json:"key_id"`
	UserID      string     `json:"user_id"`
	KeyHash     string     `json:"key_hash"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// NewFileStore opens (or creates) the JSON document at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path: path,
		doc: document{
			Users:         make(map[string]*userRecord),
			RefreshTokens: make(map[string]*refreshTokenRecord),
			APIKeys:       make(map[string]*apiKeyRecord),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	if s.doc.Users == nil {
		s.doc.Users = make(map[string]*userRecord)
	}
	if s.doc.RefreshTokens == nil {
		s.doc.RefreshTokens = make(map[string]*refreshTokenRecord)
	}
	if s.doc.APIKeys == nil {
		s.doc.APIKeys = make(map[string]*apiKeyRecord)
	}
	return s, nil
}

// persist rewrites the whole document. Written to a temp file first so
// a crash mid-write cannot truncate the store. Caller holds the mutex.
func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store document: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// CreateUser inserts a user, enforcing case-insensitive uniqueness of
// username and email.
func (s *FileStore) CreateUser(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.doc.Users {
		if strings.EqualFold(rec.Username, user.Username) {
			return auth.NewConflictError("username", user.Username)
		}
		if strings.EqualFold(rec.Email, user.Email) {
			return auth.NewConflictError("email", user.Email)
		}
	}
	s.doc.Users[user.ID] = userToRecord(user)
	return s.persist()
}

// FindUserByID returns the user or nil.
func (s *FileStore) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Users[id]
	if !ok {
		return nil, nil
	}
	return recordToUser(rec), nil
}

// FindUserByUsername matches case-insensitively.
func (s *FileStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.doc.Users {
		if strings.EqualFold(rec.Username, username) {
			return recordToUser(rec), nil
		}
	}
	return nil, nil
}

// FindUserByEmail matches case-insensitively.
func (s *FileStore) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.doc.Users {
		if strings.EqualFold(rec.Email, email) {
			return recordToUser(rec), nil
		}
	}
	return nil, nil
}

// UpdateUser replaces the stored record. Returns nil when the id does
// not exist; an email collision with a different user is a
// ConflictError.
func (s *FileStore) UpdateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.doc.Users[user.ID]
	if !ok {
		return nil, nil
	}
	for id, rec := range s.doc.Users {
		if id != user.ID && strings.EqualFold(rec.Email, user.Email) {
			return nil, auth.NewConflictError("email", user.Email)
		}
	}

	updated := userToRecord(user)
	// Password changes go through ChangePassword only.
	updated.PasswordHash = existing.PasswordHash
	s.doc.Users[user.ID] = updated
	if err := s.persist(); err != nil {
		return nil, err
	}
	return recordToUser(updated), nil
}

// DeleteUser removes the user and cascades to their refresh tokens and
// API keys.
func (s *FileStore) DeleteUser(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[id]; !ok {
		return false, nil
	}
	delete(s.doc.Users, id)
	for tokenID, rec := range s.doc.RefreshTokens {
		if rec.UserID == id {
			delete(s.doc.RefreshTokens, tokenID)
		}
	}
	for keyID, rec := range s.doc.APIKeys {
		if rec.UserID == id {
			delete(s.doc.APIKeys, keyID)
		}
	}
	return true, s.persist()
}

// UpdateLastLogin stamps last_login_at.
func (s *FileStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Users[id]
	if !ok {
		return auth.NewNotFoundError("user", id)
	}
	rec.LastLoginAt = &at
	rec.UpdatedAt = at
	return s.persist()
}

// ChangePassword replaces the stored password hash.
func (s *FileStore) ChangePassword(ctx context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Users[id]
	if !ok {
		return auth.NewNotFoundError("user", id)
	}
	rec.PasswordHash = passwordHash
	rec.UpdatedAt = time.Now().UTC()
	return s.persist()
}

// ListUsers filters by role/status and pages with offset+limit, stably
// ordered by creation time.
func (s *FileStore) ListUsers(ctx context.Context, filter auth.ListUsersFilter) ([]*auth.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*userRecord
	for _, rec := range s.doc.Users {
		if filter.Role != "" && rec.Role != filter.Role {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	users := make([]*auth.User, 0, end-offset)
	for _, rec := range matched[offset:end] {
		users = append(users, recordToUser(rec))
	}
	return users, total, nil
}

// SaveRefreshToken inserts a refresh-token record.
func (s *FileStore) SaveRefreshToken(ctx context.Context, token *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.RefreshTokens[token.TokenID] = &refreshTokenRecord{
		TokenID:   token.TokenID,
		UserID:    token.UserID,
		TokenHash: token.TokenHash,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
		Revoked:   token.Revoked,
	}
	return s.persist()
}

// FindRefreshToken returns nil for revoked or expired records even
// though the row physically remains until swept.
func (s *FileStore) FindRefreshToken(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.RefreshTokens[tokenID]
	if !ok || rec.Revoked || time.Now().UTC().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &auth.RefreshToken{
		TokenID:   rec.TokenID,
		UserID:    rec.UserID,
		TokenHash: rec.TokenHash,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Revoked:   rec.Revoked,
	}, nil
}

// RevokeRefreshToken is idempotent; revoking an unknown or already
// revoked token is a no-op.
func (s *FileStore) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.RefreshTokens[tokenID]
	if !ok || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	return s.persist()
}

// RevokeAllRefreshTokens bulk-revokes a user's records.
func (s *FileStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, rec := range s.doc.RefreshTokens {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

// SaveAPIKey inserts an API-key record.
func (s *FileStore) SaveAPIKey(ctx context.Context, key *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.APIKeys[key.KeyID] = apiKeyToRecord(key)
	return s.persist()
}

// FindAPIKeyByID returns the key or nil, revoked keys included so they
// can still be listed and inspected.
func (s *FileStore) FindAPIKeyByID(ctx context.Context, keyID string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.APIKeys[keyID]
	if !ok {
		return nil, nil
	}
	return recordToAPIKey(rec), nil
}

// FindAPIKeyByHash looks up a usable key by hash and stamps
// last_used_at. The write-on-read is deliberate: every successful
// authentication by hash is usage.
func (s *FileStore) FindAPIKeyByHash(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range s.doc.APIKeys {
		if rec.KeyHash != keyHash {
			continue
		}
		if rec.Revoked || (rec.ExpiresAt != nil && now.After(*rec.ExpiresAt)) {
			return nil, nil
		}
		rec.LastUsedAt = &now
		if err := s.persist(); err != nil {
			return nil, err
		}
		return recordToAPIKey(rec), nil
	}
	return nil, nil
}

// ListAPIKeysForUser returns all of the user's keys, newest first.
func (s *FileStore) ListAPIKeysForUser(ctx context.Context, userID string) ([]*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []*auth.APIKey
	for _, rec := range s.doc.APIKeys {
		if rec.UserID == userID {
			keys = append(keys, recordToAPIKey(rec))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// RevokeAPIKey is idempotent.
func (s *FileStore) RevokeAPIKey(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.APIKeys[keyID]
	if !ok || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	return s.persist()
}

// CleanupExpired drops refresh-token rows that are expired or revoked
// and API-key rows past their expiry. Revoked API keys stay so they
// remain listable.
func (s *FileStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for tokenID, rec := range s.doc.RefreshTokens {
		if rec.Revoked || now.After(rec.ExpiresAt) {
			delete(s.doc.RefreshTokens, tokenID)
			removed++
		}
	}
	for keyID, rec := range s.doc.APIKeys {
		if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
			delete(s.doc.APIKeys, keyID)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persist()
}

// CountActiveCredentials reports how many refresh tokens and API keys
// are currently usable: not revoked and not past expiry.
func (s *FileStore) CountActiveCredentials(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	tokens := 0
	for _, rec := range s.doc.RefreshTokens {
		if !rec.Revoked && now.Before(rec.ExpiresAt) {
			tokens++
		}
	}
	keys := 0
	for _, rec := range s.doc.APIKeys {
		if rec.Revoked {
			continue
		}
		if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
			continue
		}
		keys++
	}
	return tokens, keys, nil
}

// HealthCheck verifies the backing file is still reachable.
func (s *FileStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("store file unavailable: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func userToRecord(u *auth.User) *userRecord {
	return &userRecord{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Role:         u.Role,
		Status:       u.Status,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		LastLoginAt:  u.LastLoginAt,
		Metadata:     u.Metadata,
	}
}

func recordToUser(r *userRecord) *auth.User {
	return &auth.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FullName:     r.FullName,
		Role:         r.Role,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLoginAt:  r.LastLoginAt,
		Metadata:     r.Metadata,
	}
}

func apiKeyToRecord(k *auth.APIKey) *apiKeyRecord {
	return &apiKeyRecord{
		KeyID:       k.KeyID,
		UserID:      k.UserID,
		KeyHash:     k.KeyHash,
		Name:        k.Name,
		Description: k.Description,
		Scopes:      k.Scopes,
		Revoked:     k.Revoked,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
	}
}

func recordToAPIKey(r *apiKeyRecord) *auth.APIKey {
	return &auth.APIKey{
		KeyID:       r.KeyID,
		UserID:      r.UserID,
		KeyHash:     r.KeyHash,
		Name:        r.Name,
		Description: r.Description,
		Scopes:      r.Scopes,
		Revoked:     r.Revoked,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		LastUsedAt:  r.LastUsedAt,
	}
}
