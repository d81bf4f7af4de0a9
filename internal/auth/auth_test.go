package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungtau/ledger-payments/internal/domain"
)

const secret = "test-secret"

func TestJWTResolver_RoundTrip(t *testing.T) {
	token, expiresAt, err := IssueToken(secret, "client-42", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	id, err := NewJWTResolver(secret).ResolveClientID(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "client-42", id)
}

func TestJWTResolver_Rejects(t *testing.T) {
	expired, _, err := IssueToken(secret, "client-42", -time.Minute)
	require.NoError(t, err)

	otherKey, _, err := IssueToken("another-secret", "client-42", time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "client-42",
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "   ",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": otherKey,
		"no subject":   noSubject,
		"wrong method": hs512,
	}

	r := NewJWTResolver(secret)
	for name, credential := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.ResolveClientID(context.Background(), credential)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
		})
	}
}

func TestStatic(t *testing.T) {
	s := Static{"token-a": "client-a"}

	id, err := s.ResolveClientID(context.Background(), "token-a")
	require.NoError(t, err)
	assert.Equal(t, "client-a", id)

	_, err = s.ResolveClientID(context.Background(), "token-b")
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}
