package middleware

import (
	"net/http"

	"paygate-be/internal/auth"
	"paygate-be/internal/logger"
	"paygate-be/internal/utils"
)

// NewAuthMiddleware resolves the tenant from a Bearer token.
// Requests without a Bearer token pass through anonymously; handlers decide whether a tenant is required.
// A Bearer token that fails validation is rejected outright.
func NewAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := auth.ParseTenantToken(tokenStr, key)
			if err != nil {
				utils.WriteJSONError(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := utils.SetTenantContext(r.Context(), tenantID)
			ctx = logger.WithTenantID(ctx, tenantID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
