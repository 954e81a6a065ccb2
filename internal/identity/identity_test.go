package identity

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(config.Config{})
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthJWTSecret: "test-secret"})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()

	token, err := v.Sign(userID, "dev@example.com", time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, userID, got)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthJWTSecret: "test-secret"})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	token, err := v.Sign(node.Generate(), "dev@example.com", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewVerifier(config.Config{AuthJWTSecret: "issuer-secret"})
	require.NoError(t, err)
	verifier, err := NewVerifier(config.Config{AuthJWTSecret: "other-secret"})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	token, err := issuer.Sign(node.Generate(), "", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthJWTSecret: "test-secret"})
	require.NoError(t, err)

	_, err = v.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
