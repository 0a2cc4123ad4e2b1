package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TenantClaim is the JWT claim carrying the caller's tenant id.
const TenantClaim = "tenant_id"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoTenant     = errors.New("token has no tenant")
)

// ExtractAccessToken returns the Bearer token, or "" when the header is absent or uses another scheme.
func ExtractAccessToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// ParseTenantToken validates an HS256 token and returns its tenant.
func ParseTenantToken(tokenStr string, secret []byte) (uuid.UUID, error) {
	if len(secret) == 0 {
		return uuid.Nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	raw, _ := claims[TenantClaim].(string)
	tenantID, err := uuid.Parse(raw)
	if err != nil || tenantID == uuid.Nil {
		return uuid.Nil, ErrNoTenant
	}
	return tenantID, nil
}

// IssueTenantToken signs a token for tenantID valid for ttl.
func IssueTenantToken(secret []byte, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		TenantClaim: tenantID.String(),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
