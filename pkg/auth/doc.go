// Package auth implements credential issuance and lifecycle management
// for the metric catalog: password hashing, signed access/refresh
// tokens, opaque API keys, and the account lifecycle service that
// composes them.
//
// # Components
//
// PasswordHasher wraps bcrypt with a configurable cost:
//
//	hasher := auth.NewPasswordHasher(auth.DefaultBcryptCost)
//	digest, err := hasher.Hash("Str0ng!pass")
//	ok, err := hasher.Verify("Str0ng!pass", digest)
//
// TokenCodec signs and verifies the two JWT classes and generates API
// keys:
//
//	codec := auth.NewTokenCodec(auth.CodecConfig{
//		AccessSecret:  accessSecret,
//		RefreshSecret: refreshSecret,
//	})
//	access, err := codec.IssueAccessToken(user)
//	identity, err := codec.VerifyAccessToken(access.Token)
//
// Service orchestrates register/login/refresh/logout and API key
// management on top of a CredentialStore:
//
//	svc := auth.NewService(store, codec, hasher, logger)
//	user, pair, err := svc.Register(ctx, auth.RegisterInput{...})
//
// # Error taxonomy
//
// All operations fail with one of the typed errors in errors.go
// (ValidationError, ConflictError, NotFoundError, AuthenticationError,
// AuthorizationError). Lower layers never swallow them; the HTTP layer
// maps each kind to a status code via httputil.
//
// # Related Packages
//
//   - pkg/store: file and PostgreSQL CredentialStore backends
//   - pkg/middleware: request authentication and role gating
//   - pkg/api: HTTP handlers exposing the lifecycle operations
package auth
