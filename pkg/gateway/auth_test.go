package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticator(t *testing.T) {
	_, err := NewAuthenticator("  ")
	assert.Error(t, err)

	auth, err := NewAuthenticator("secret")
	require.NoError(t, err)
	assert.NotNil(t, auth)
}

func TestAuthenticator_IssueAndVerify(t *testing.T) {
	auth, err := NewAuthenticator("secret")
	require.NoError(t, err)

	t.Run("round trips the subject", func(t *testing.T) {
		token, err := auth.IssueToken("u1", time.Hour)
		require.NoError(t, err)

		sub, err := auth.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", sub)
	})

	t.Run("requires a user id", func(t *testing.T) {
		_, err := auth.IssueToken("", time.Hour)
		assert.Error(t, err)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		token, err := auth.IssueToken("u1", time.Minute)
		require.NoError(t, err)

		later, _ := NewAuthenticator("secret")
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = later.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		token, err := auth.IssueToken("u1", 0)
		require.NoError(t, err)

		later, _ := NewAuthenticator("secret")
		later.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
		sub, err := later.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", sub)
	})

	t.Run("rejects a different secret", func(t *testing.T) {
		other, _ := NewAuthenticator("other")
		token, err := other.IssueToken("u1", time.Hour)
		require.NoError(t, err)

		_, err = auth.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects unsigned tokens", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects tokens without subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "steward"}).
			SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = auth.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAuthenticator_Authenticate(t *testing.T) {
	auth, err := NewAuthenticator("secret")
	require.NoError(t, err)
	token, err := auth.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/rpc", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		sub, err := auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "u1", sub)
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)
		sub, err := auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "u1", sub)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/rpc", nil)
		_, err := auth.Authenticate(r)
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/rpc", nil)
		r.Header.Set("Authorization", "Basic "+token)
		_, err := auth.Authenticate(r)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
