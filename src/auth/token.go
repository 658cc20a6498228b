// Package auth issues and verifies the bearer tokens that gate every
// connection, and tracks revoked tokens in Redis.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Egcarson/chatroom/src/types"
)

// ErrUnauthorized covers every credential failure: bad signature,
// expired, malformed, or revoked. Callers never learn which.
var ErrUnauthorized = errors.New("invalid or expired credential")

// Verifier validates a bearer credential and returns the identity
// behind it. The connection layer depends on this interface only.
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// Claims is the payload stored inside issued tokens. Refresh marks a
// refresh token, which is never accepted as an access credential.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Refresh  bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies HS256 tokens. When a revoker is
// attached, verified tokens are additionally checked against the
// revocation list.
type Authenticator struct {
	secret     []byte
	ttl        time.Duration
	refreshTTL time.Duration
	revoker    *Revoker
	logger     zerolog.Logger
}

// NewAuthenticator creates an authenticator signing with secret.
// revoker may be nil, in which case logout revocation is disabled.
func NewAuthenticator(secret string, ttl, refreshTTL time.Duration, revoker *Revoker, logger zerolog.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 72 * time.Hour
	}
	return &Authenticator{
		secret:     []byte(secret),
		ttl:        ttl,
		refreshTTL: refreshTTL,
		revoker:    revoker,
		logger:     logger.With().Str("component", "auth").Logger(),
	}
}

func (a *Authenticator) sign(userID, username, jti string, ttl time.Duration, refresh bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Refresh:  refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chatroom",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Issue mints a signed access token for a user.
func (a *Authenticator) Issue(userID, username string) (string, error) {
	return a.sign(userID, username, uuid.NewString(), a.ttl, false)
}

// IssuePair mints an access/refresh token pair sharing one token id,
// so revoking it on logout invalidates both.
func (a *Authenticator) IssuePair(userID, username string) (access, refresh string, err error) {
	jti := uuid.NewString()
	access, err = a.sign(userID, username, jti, a.ttl, false)
	if err != nil {
		return "", "", err
	}
	refresh, err = a.sign(userID, username, jti, a.refreshTTL, true)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// parseClaims validates the signature (HMAC only), expiry and claim
// shape of a token string. Every caller goes through here so no path
// can skip the signing-method check.
func (a *Authenticator) parseClaims(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Verify parses and validates an access token and returns the identity
// it carries. Refresh tokens, tampered tokens and revoked token ids all
// map to ErrUnauthorized.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (types.Identity, error) {
	claims, err := a.parseClaims(tokenString)
	if err != nil {
		return types.Identity{}, err
	}
	if claims.Refresh {
		return types.Identity{}, ErrUnauthorized
	}
	if a.revoker != nil && a.revoker.IsRevoked(ctx, claims.ID) {
		a.logger.Debug().Str("jti", claims.ID).Msg("revoked token presented")
		return types.Identity{}, ErrUnauthorized
	}
	return types.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		TokenID:  claims.ID,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (string, types.Identity, error) {
	claims, err := a.parseClaims(refreshToken)
	if err != nil {
		return "", types.Identity{}, err
	}
	if !claims.Refresh {
		return "", types.Identity{}, ErrUnauthorized
	}
	if a.revoker != nil && a.revoker.IsRevoked(ctx, claims.ID) {
		return "", types.Identity{}, ErrUnauthorized
	}
	access, err := a.Issue(claims.UserID, claims.Username)
	if err != nil {
		return "", types.Identity{}, err
	}
	return access, types.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		TokenID:  claims.ID,
	}, nil
}

// Revoke invalidates a token id until the refresh expiry, which also
// covers the refresh token sharing it. With no revoker attached this
// is a no-op.
func (a *Authenticator) Revoke(ctx context.Context, tokenString string) error {
	claims, err := a.parseClaims(tokenString)
	if err != nil {
		return err
	}
	if a.revoker == nil {
		return nil
	}
	a.logger.Info().Str("user_id", claims.UserID).Str("jti", claims.ID).Msg("token revoked")
	return a.revoker.Revoke(ctx, claims.ID, time.Now().Add(a.refreshTTL))
}
