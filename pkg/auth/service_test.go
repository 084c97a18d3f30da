package auth_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/observability"
	"github.com/metricat/metricat/pkg/store"
)

const testPassword = "Sup3r$ecret"

func newTestService(t *testing.T) (*auth.Service, auth.CredentialStore) {
	t.Helper()

	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  []byte("service-test-access"),
		RefreshSecret: []byte("service-test-refresh"),
	})
	require.NoError(t, err)

	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	return auth.NewService(st, codec, hasher, logger), st
}

func register(t *testing.T, svc *auth.Service, username string) (*auth.User, *auth.TokenPair) {
	t.Helper()

	user, pair, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return user, pair
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)

	user, pair := register(t, svc, "alice")

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, auth.RoleViewer, user.Role, "role defaults to viewer")
	assert.Equal(t, auth.StatusActive, user.Status)
	assert.NotEqual(t, testPassword, user.PasswordHash)

	require.NotNil(t, pair)
	identity, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "short",
	})

	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Violations), 2, "all policy violations reported together")
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "  ",
		Email:    "not-an-email",
		Password: testPassword,
		Role:     auth.Role("superuser"),
	})

	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "username is required")
	assert.Contains(t, err.Error(), "email is invalid")
	assert.Contains(t, err.Error(), "superuser")
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "alice")

	_, _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "ALICE",
		Email:    "other@example.com",
		Password: testPassword,
	})

	var conflict *auth.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registered, _ := register(t, svc, "alice")

	// By username.
	user, pair, err := svc.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	require.NotNil(t, user.LastLoginAt)
	require.NotNil(t, pair)

	// By email.
	user, _, err = svc.Login(ctx, "alice@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	suspended := auth.StatusSuspended
	_, err := svc.UpdateUser(ctx, user.ID, auth.UpdateUserInput{Status: &suspended})
	require.NoError(t, err)

	cases := map[string][2]string{
		"unknown user":      {"nobody", testPassword},
		"wrong password":    {"alice", "Wr0ng$ecret"},
		"suspended account": {"alice", testPassword},
	}
	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, creds[0], creds[1])
			var authErr *auth.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, "authentication failed", err.Error(),
				"failure modes must share one generic message")
		})
	}
}

func TestRefresh_RotatesAndBlocksReplay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, pair := register(t, svc, "alice")

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	_, err = svc.VerifyAccessToken(rotated.AccessToken)
	require.NoError(t, err)

	// The consumed token is dead; replaying it must fail.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)

	// The rotated token still works.
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "not-a-token")
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestRefresh_StoredHashMismatch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, pair := register(t, svc, "alice")

	// Decode the token with a codec sharing the fixture's secrets to
	// locate its server-side record.
	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  []byte("service-test-access"),
		RefreshSecret: []byte("service-test-refresh"),
	})
	require.NoError(t, err)
	claims, err := codec.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)

	record, err := st.FindRefreshToken(ctx, claims.TokenID)
	require.NoError(t, err)
	require.NotNil(t, record)

	// A record whose hash no longer matches the presented token must be
	// rejected even though the JWT signature verifies.
	record.TokenHash = auth.HashCredential("some-other-token")
	require.NoError(t, st.SaveRefreshToken(ctx, record))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestRefresh_SuspendedUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, pair := register(t, svc, "alice")

	suspended := auth.StatusSuspended
	_, err := svc.UpdateUser(ctx, user.ID, auth.UpdateUserInput{Status: &suspended})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestServiceMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc.SetMetrics(metrics)

	_, pair := register(t, svc, "alice")

	_, _, err := svc.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "alice", "Wr0ng!pass")
	require.Error(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `metricat_login_attempts_total{result="success"} 1`)
	assert.Contains(t, body, `metricat_login_attempts_total{result="failure"} 1`)
	assert.Contains(t, body, `metricat_token_rotations_total{result="success"} 1`)
	assert.Contains(t, body, `metricat_token_rotations_total{result="failure"} 1`)
	// Register, login, and the successful rotation each issue a pair.
	assert.Contains(t, body, `metricat_tokens_issued_total{kind="access"} 3`)
	assert.Contains(t, body, `metricat_tokens_issued_total{kind="refresh"} 3`)
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, pair := register(t, svc, "alice")

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken, false))

	_, err := svc.Refresh(ctx, pair.RefreshToken)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestLogout_Everywhere(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, first := register(t, svc, "alice")

	_, second, err := svc.Login(ctx, "alice", testPassword)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken, true))

	var authErr *auth.AuthenticationError
	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorAs(t, err, &authErr)
	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.ErrorAs(t, err, &authErr)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, pair := register(t, svc, "alice")

	const newPassword = "N3w$ecret!"
	require.NoError(t, svc.ChangePassword(ctx, user.ID, testPassword, newPassword))

	// Existing sessions are revoked.
	_, err := svc.Refresh(ctx, pair.RefreshToken)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)

	// The old password no longer works, the new one does.
	_, _, err = svc.Login(ctx, "alice", testPassword)
	require.ErrorAs(t, err, &authErr)
	_, _, err = svc.Login(ctx, "alice", newPassword)
	require.NoError(t, err)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	user, _ := register(t, svc, "alice")

	err := svc.ChangePassword(context.Background(), user.ID, "Wr0ng$ecret", "N3w$ecret!")
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestChangePassword_WeakNew(t *testing.T) {
	svc, _ := newTestService(t)
	user, _ := register(t, svc, "alice")

	err := svc.ChangePassword(context.Background(), user.ID, testPassword, "weak")
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAPIKey_CreateAndResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	key, raw, err := svc.CreateAPIKey(ctx, user.ID, auth.CreateAPIKeyInput{
		Name:   "ci",
		Scopes: []string{"metrics:read"},
	})
	require.NoError(t, err)
	assert.NotContains(t, raw, key.KeyHash, "the raw key is never its own hash")

	identity, err := svc.ResolveAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, key.KeyID, identity.APIKeyID)
	assert.Equal(t, []string{"metrics:read"}, identity.Scopes)
}

func TestAPIKey_NameRequired(t *testing.T) {
	svc, _ := newTestService(t)
	user, _ := register(t, svc, "alice")

	_, _, err := svc.CreateAPIKey(context.Background(), user.ID, auth.CreateAPIKeyInput{})
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAPIKey_ResolveFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	key, raw, err := svc.CreateAPIKey(ctx, user.ID, auth.CreateAPIKeyInput{Name: "ci"})
	require.NoError(t, err)

	var authErr *auth.AuthenticationError

	_, err = svc.ResolveAPIKey(ctx, "garbage")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "authentication failed", err.Error())

	caller := &auth.Identity{UserID: user.ID, Role: user.Role}
	require.NoError(t, svc.RevokeAPIKey(ctx, caller, key.KeyID))

	_, err = svc.ResolveAPIKey(ctx, raw)
	require.ErrorAs(t, err, &authErr)
}

func TestAPIKey_ResolveSuspendedOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	_, raw, err := svc.CreateAPIKey(ctx, user.ID, auth.CreateAPIKeyInput{Name: "ci"})
	require.NoError(t, err)

	suspended := auth.StatusSuspended
	_, err = svc.UpdateUser(ctx, user.ID, auth.UpdateUserInput{Status: &suspended})
	require.NoError(t, err)

	_, err = svc.ResolveAPIKey(ctx, raw)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestAPIKey_RevokeAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner, _ := register(t, svc, "alice")
	other, _ := register(t, svc, "bob")

	key, _, err := svc.CreateAPIKey(ctx, owner.ID, auth.CreateAPIKeyInput{Name: "ci"})
	require.NoError(t, err)

	// A non-owner without admin gets a 403-shaped error naming the
	// required role.
	err = svc.RevokeAPIKey(ctx, &auth.Identity{UserID: other.ID, Role: auth.RoleEditor}, key.KeyID)
	var authz *auth.AuthorizationError
	require.ErrorAs(t, err, &authz)
	assert.Equal(t, auth.RoleAdmin, authz.RequiredRole)
	assert.Contains(t, err.Error(), "admin")

	// An admin may revoke anyone's key.
	err = svc.RevokeAPIKey(ctx, &auth.Identity{UserID: other.ID, Role: auth.RoleAdmin}, key.KeyID)
	require.NoError(t, err)
}

func TestAPIKey_RevokeUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	user, _ := register(t, svc, "alice")

	err := svc.RevokeAPIKey(context.Background(), &auth.Identity{UserID: user.ID, Role: auth.RoleAdmin}, "nope")
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestListAPIKeys_OmitsHashes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	_, _, err := svc.CreateAPIKey(ctx, user.ID, auth.CreateAPIKeyInput{Name: "ci"})
	require.NoError(t, err)

	keys, err := svc.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)
}

func TestUserOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := register(t, svc, "alice")

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)

	_, err = svc.GetUser(ctx, "nope")
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)

	admin := auth.RoleAdmin
	updated, err := svc.UpdateUser(ctx, user.ID, auth.UpdateUserInput{Role: &admin})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, updated.Role)

	users, total, err := svc.ListUsers(ctx, auth.ListUsersFilter{Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)

	_, _, err = svc.ListUsers(ctx, auth.ListUsersFilter{Role: auth.Role("bogus")})
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))
	err = svc.DeleteUser(ctx, user.ID)
	require.ErrorAs(t, err, &notFound)
}
