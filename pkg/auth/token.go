package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL is the default access-token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the default refresh-token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultAPIKeyPrefix identifies catalog API keys.
	DefaultAPIKeyPrefix = "mcat"

	// apiKeyRandomBytes is the entropy of an API key (rendered as 64
	// hex characters).
	apiKeyRandomBytes = 32
)

// AccessClaims is the payload of an access token. Access tokens are
// stateless: verification needs only the signature and expiry, never a
// store lookup.
type AccessClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. The embedded TokenID
// names the server-side RefreshToken record; verification is only
// complete once that record has been checked.
type RefreshClaims struct {
	UserID  string `json:"uid"`
	TokenID string `json:"tid"`
	jwt.RegisteredClaims
}

// AccessToken is a signed access token with its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// IssuedRefreshToken is a signed refresh token together with the
// identifier of its server-side record.
type IssuedRefreshToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// CodecConfig configures a TokenCodec. The two secrets must differ so
// an access token can never pass refresh verification or vice versa.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	APIKeyPrefix  string
}

// TokenCodec signs and verifies access and refresh tokens, and
// generates and hashes opaque API keys. It holds no state and never
// touches the store.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	keyPrefix     string
}

// NewTokenCodec creates a codec, falling back to defaults for any zero
// config field except the secrets, which are required.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("token codec requires both access and refresh secrets")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}
	c := &TokenCodec{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		keyPrefix:     cfg.APIKeyPrefix,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = DefaultRefreshTTL
	}
	if c.keyPrefix == "" {
		c.keyPrefix = DefaultAPIKeyPrefix
	}
	return c, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs a short-lived HS256 access token carrying the
// user's identity claims.
func (c *TokenCodec) IssueAccessToken(user *User) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(c.accessTTL)
	claims := AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// VerifyAccessToken checks signature and expiry and returns the
// identity embedded in the claims. Any failure is a generic
// AuthenticationError.
func (c *TokenCodec) VerifyAccessToken(token string) (*Identity, error) {
	var claims AccessClaims
	if err := c.parse(token, &claims, c.accessSecret); err != nil {
		return nil, NewAuthenticationError(err)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, NewAuthenticationError(fmt.Errorf("access token has malformed claims"))
	}
	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}

// IssueRefreshToken signs a long-lived HS256 refresh token with a fresh
// token_id. The caller is responsible for persisting the matching
// RefreshToken record.
func (c *TokenCodec) IssueRefreshToken(userID string) (IssuedRefreshToken, error) {
	now := time.Now().UTC()
	exp := now.Add(c.refreshTTL)
	tokenID := uuid.NewString()
	claims := RefreshClaims{
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return IssuedRefreshToken{Token: signed, TokenID: tokenID, ExpiresAt: exp}, nil
}

// VerifyRefreshToken checks signature and expiry only. The caller must
// still check the server-side record named by the returned TokenID
// before accepting the token.
func (c *TokenCodec) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(token, &claims, c.refreshSecret); err != nil {
		return nil, NewAuthenticationError(err)
	}
	if claims.UserID == "" || claims.TokenID == "" {
		return nil, NewAuthenticationError(fmt.Errorf("refresh token has malformed claims"))
	}
	return &claims, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token is invalid")
	}
	return nil
}

// GenerateAPIKey creates a new opaque API key in the form
// <prefix>_<64 hex chars> and returns both the raw key and its SHA-256
// hash. Only the hash goes to the store; the raw key is shown to the
// caller exactly once.
func (c *TokenCodec) GenerateAPIKey() (raw string, hash string, err error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	raw = c.keyPrefix + "_" + hex.EncodeToString(buf)
	return raw, HashCredential(raw), nil
}

// ValidKeyFormat reports whether raw has the expected API key shape.
// It says nothing about whether the key exists or is revoked.
func (c *TokenCodec) ValidKeyFormat(raw string) bool {
	rest, ok := strings.CutPrefix(raw, c.keyPrefix+"_")
	if !ok || len(rest) != apiKeyRandomBytes*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// HashCredential computes the SHA-256 hex digest of a credential string
// for storage and lookup. This is a fast hash, not bcrypt: API keys and
// refresh-token strings carry their own entropy and are used as lookup
// keys, not brute-forceable secrets.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExtractBearer returns the token from an "Authorization: Bearer <tok>"
// header value, or "" for any other scheme or malformed header.
func ExtractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
