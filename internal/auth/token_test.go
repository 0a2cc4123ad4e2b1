package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAccessToken(t *testing.T) {
	t.Run("Bearer Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer header_token")

		assert.Equal(t, "header_token", ExtractAccessToken(req))
	})

	t.Run("No Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		assert.Empty(t, ExtractAccessToken(req))
	})

	t.Run("Malformed Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic user:pass")

		assert.Empty(t, ExtractAccessToken(req))
	})
}

func TestTenantToken(t *testing.T) {
	secret := []byte("s3cret")
	tenantID := uuid.New()

	t.Run("RoundTrip", func(t *testing.T) {
		tok, err := IssueTenantToken(secret, tenantID, time.Hour)
		require.NoError(t, err)

		got, err := ParseTenantToken(tok, secret)
		require.NoError(t, err)
		assert.Equal(t, tenantID, got)
	})

	t.Run("Expired", func(t *testing.T) {
		tok, err := IssueTenantToken(secret, tenantID, -time.Minute)
		require.NoError(t, err)

		_, err = ParseTenantToken(tok, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		tok, err := IssueTenantToken([]byte("other"), tenantID, time.Hour)
		require.NoError(t, err)

		_, err = ParseTenantToken(tok, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("EmptySecretRejectsEverything", func(t *testing.T) {
		tok, err := IssueTenantToken([]byte{}, tenantID, time.Hour)
		if err == nil {
			_, err = ParseTenantToken(tok, nil)
		}
		assert.Error(t, err)
	})

	t.Run("NoneAlgorithmRejected", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{TenantClaim: tenantID.String()}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ParseTenantToken(tok, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("MissingTenant", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1}).SignedString(secret)
		require.NoError(t, err)

		_, err = ParseTenantToken(tok, secret)
		assert.ErrorIs(t, err, ErrNoTenant)
	})
}
