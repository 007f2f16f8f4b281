package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestNewCredentialReadsClaims(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(1 * time.Hour).Truncate(time.Second)
	cred, err := NewCredential(signedToken(t, jwt.MapClaims{
		"sub": "u-42",
		"exp": exp.Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, "u-42", cred.UserID())

	got, ok := cred.ExpiresAt()
	require.True(t, ok)
	require.True(t, got.Equal(exp))
}

func TestExpiredAndExpiringSoon(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cred, err := NewCredential(signedToken(t, jwt.MapClaims{
		"sub": "u-1",
		"exp": now.Add(5 * time.Minute).Unix(),
	}))
	require.NoError(t, err)

	require.False(t, cred.Expired(now))
	require.True(t, cred.Expired(now.Add(6*time.Minute)))
	require.True(t, cred.ExpiringSoon(now, 10*time.Minute))
	require.False(t, cred.ExpiringSoon(now, time.Minute))
}

func TestNoExpiryClaim(t *testing.T) {
	t.Parallel()

	cred, err := NewCredential(signedToken(t, jwt.MapClaims{"sub": "u-1"}))
	require.NoError(t, err)

	_, ok := cred.ExpiresAt()
	require.False(t, ok)
	require.False(t, cred.Expired(time.Now()))
	require.False(t, cred.ExpiringSoon(time.Now(), time.Hour))
}

func TestRejectsBadTokens(t *testing.T) {
	t.Parallel()

	_, err := NewCredential("   ")
	require.ErrorIs(t, err, ErrEmptyToken)

	_, err = NewCredential("definitely.not-a-jwt")
	require.ErrorIs(t, err, ErrMalformedToken)
}
