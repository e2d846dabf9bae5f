package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cabinethq/scheduling-platform/internal/tenancy"
)

// TenantClaims is the token payload the API expects: the subject is the
// acting staff user, tenant_id is the clinic the token is scoped to.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// TenantJWT enforces an HMAC-signed JWT and resolves the tenant and user
// into the request context. Handlers never read tenant ids from the URL or
// body; the token is the only source.
func TenantJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := TenantClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil || tenantID == uuid.Nil {
				http.Error(w, "token missing tenant", http.StatusUnauthorized)
				return
			}
			ctx := tenancy.WithTenantID(r.Context(), tenantID)
			if userID, err := uuid.Parse(claims.Subject); err == nil {
				ctx = tenancy.WithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
