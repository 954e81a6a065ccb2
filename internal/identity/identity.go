// Package identity resolves the calling user from bearer credentials.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/atrium/internal/config"
	"go.uber.org/fx"
)

// Actor identifies the authenticated caller inside one organization. Role is
// the caller's membership role in the organization the request is scoped to,
// resolved by the HTTP layer before the core services run.
type Actor struct {
	UserID snowflake.ID
	Role   string
}

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrNoSecret     = errors.New("auth jwt secret is required")
)

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier parses and validates HS256 bearer tokens issued by the upstream
// identity provider sharing AUTH_JWT_SECRET.
type Verifier struct {
	secret []byte
}

func NewVerifier(cfg config.Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify returns the user ID carried in the token subject.
func (v *Verifier) Verify(tokenStr string) (snowflake.ID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil {
		return 0, ErrInvalidToken
	}

	return userID, nil
}

// Sign issues a token for userID. Local tooling and tests use it; production
// tokens come from the identity provider.
func (v *Verifier) Sign(userID snowflake.ID, email string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var Module = fx.Module("identity",
	fx.Provide(NewVerifier),
)
