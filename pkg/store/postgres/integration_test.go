package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/metricat/metricat/pkg/auth"
)

// setupIntegrationStore connects to the database named by
// TEST_POSTGRES_PRIMARY when it is set, and otherwise starts a throwaway
// PostgreSQL container. Either way the migrations are run and a connected
// store is returned.
func setupIntegrationStore(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	ctx := context.Background()

	if os.Getenv("TEST_POSTGRES_PRIMARY") != "" {
		db := RequireDatabase(t)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, RunMigrations(ctx, db))
		// The CI database persists across tests, so start each one clean.
		_, err := db.ExecContext(ctx, "TRUNCATE users CASCADE")
		require.NoError(t, err)
		return NewStoreWithDB(db)
	}

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("metricat_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Skipping test: could not start postgres container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, RunMigrations(ctx, db))
	t.Cleanup(func() { db.Close() })

	return NewStoreWithDB(db)
}

func seedUser(t *testing.T, store *Store, username, email string) *auth.User {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	user := &auth.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$10$notarealhash",
		FullName:     "Integration User",
		Role:         auth.RoleViewer,
		Status:       auth.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestIntegration_UserLifecycle(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "carol", "carol@example.com")

	// Case-insensitive uniqueness is enforced by the database itself.
	dup := *user
	dup.ID = uuid.New().String()
	dup.Username = "CAROL"
	dup.Email = "other@example.com"
	err := store.CreateUser(ctx, &dup)
	var conflict *auth.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)

	found, err := store.FindUserByEmail(ctx, "CAROL@EXAMPLE.COM")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)

	found.Role = auth.RoleAdmin
	found.Status = auth.StatusSuspended
	found.UpdatedAt = time.Now().UTC()
	updated, err := store.UpdateUser(ctx, found)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, auth.RoleAdmin, updated.Role)
	assert.Equal(t, auth.StatusSuspended, updated.Status)

	deleted, err := store.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	gone, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestIntegration_RefreshTokenRotation(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "dave", "dave@example.com")

	token := &auth.RefreshToken{
		TokenID:   uuid.New().String(),
		UserID:    user.ID,
		TokenHash: "deadbeef",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.SaveRefreshToken(ctx, token))

	found, err := store.FindRefreshToken(ctx, token.TokenID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.UserID)

	require.NoError(t, store.RevokeRefreshToken(ctx, token.TokenID))
	require.NoError(t, store.RevokeRefreshToken(ctx, token.TokenID))

	found, err = store.FindRefreshToken(ctx, token.TokenID)
	require.NoError(t, err)
	assert.Nil(t, found, "a revoked token must be invisible to lookups")
}

func TestIntegration_DeleteUserCascades(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "erin", "erin@example.com")

	require.NoError(t, store.SaveRefreshToken(ctx, &auth.RefreshToken{
		TokenID:   uuid.New().String(),
		UserID:    user.ID,
		TokenHash: "h1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	require.NoError(t, store.SaveAPIKey(ctx, &auth.APIKey{
		KeyID:     uuid.New().String(),
		UserID:    user.ID,
		KeyHash:   "h2",
		Name:      "ci",
		CreatedAt: time.Now().UTC(),
	}))

	deleted, err := store.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	keys, err := store.ListAPIKeysForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, keys, "api keys must be cascaded away with their owner")
}

func TestIntegration_APIKeyLastUsed(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "frank", "frank@example.com")

	key := &auth.APIKey{
		KeyID:     uuid.New().String(),
		UserID:    user.ID,
		KeyHash:   "hash-frank",
		Name:      "dashboard",
		Scopes:    []string{"metrics:read"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveAPIKey(ctx, key))

	found, err := store.FindAPIKeyByHash(ctx, "hash-frank")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.LastUsedAt, "a hash lookup stamps last_used_at")
	assert.Equal(t, []string{"metrics:read"}, found.Scopes)

	require.NoError(t, store.RevokeAPIKey(ctx, key.KeyID))

	found, err = store.FindAPIKeyByHash(ctx, "hash-frank")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Revoked keys stay visible by id so owners can audit them.
	byID, err := store.FindAPIKeyByID(ctx, key.KeyID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.True(t, byID.Revoked)
}

func TestIntegration_CleanupExpired(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "grace", "grace@example.com")

	require.NoError(t, store.SaveRefreshToken(ctx, &auth.RefreshToken{
		TokenID:   uuid.New().String(),
		UserID:    user.ID,
		TokenHash: "expired",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}))
	live := &auth.RefreshToken{
		TokenID:   uuid.New().String(),
		UserID:    user.ID,
		TokenHash: "live",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.SaveRefreshToken(ctx, live))

	removed, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	found, err := store.FindRefreshToken(ctx, live.TokenID)
	require.NoError(t, err)
	assert.NotNil(t, found)
}
