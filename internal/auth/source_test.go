package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serviceToken builds a JWT the way the remote service would. The signing key
// is irrelevant: JWTSource never verifies it.
func serviceToken(t *testing.T, exp time.Time) string {
	t.Helper()
	c := jwt.RegisteredClaims{Subject: "user-1"}
	if !exp.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("remote-service-key"))
	require.NoError(t, err)
	return s
}

func TestJWTSource_ValidToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := serviceToken(t, exp)

	tok, err := NewJWTSource(raw).Token()
	require.NoError(t, err)
	assert.Equal(t, raw, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
}

func TestJWTSource_Expired(t *testing.T) {
	src := NewJWTSource(serviceToken(t, time.Now().Add(-time.Minute)))

	_, err := src.Token()
	assert.Error(t, err)
}

func TestJWTSource_NoExpiryNeverExpires(t *testing.T) {
	tok, err := NewJWTSource(serviceToken(t, time.Time{})).Token()
	require.NoError(t, err)
	assert.True(t, tok.Expiry.IsZero())
}

func TestJWTSource_EmptyAndSet(t *testing.T) {
	src := NewJWTSource("")
	_, err := src.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	raw := serviceToken(t, time.Now().Add(time.Hour))
	src.Set(raw)
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, tok.AccessToken)
}

func TestJWTSource_Malformed(t *testing.T) {
	_, err := NewJWTSource("not-a-jwt").Token()
	assert.Error(t, err)
}

func TestNewAnalysisTokenSource(t *testing.T) {
	t.Run("jwt", func(t *testing.T) {
		raw := serviceToken(t, time.Now().Add(time.Hour))
		tok, err := NewAnalysisTokenSource(raw).Token()
		require.NoError(t, err)
		assert.Equal(t, raw, tok.AccessToken)
		assert.False(t, tok.Expiry.IsZero())
	})
	t.Run("opaque key", func(t *testing.T) {
		tok, err := NewAnalysisTokenSource("sk-opaque-key").Token()
		require.NoError(t, err)
		assert.Equal(t, "sk-opaque-key", tok.AccessToken)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := NewAnalysisTokenSource("  ").Token()
		assert.ErrorIs(t, err, ErrNoToken)
	})
}
