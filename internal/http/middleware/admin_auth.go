package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wolfman30/mediway-kiosk/internal/auth"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffClaims is what StaffJWT stores in the request context.
type StaffClaims struct {
	Claims *auth.Claims
	Role   auth.Role
}

// StaffJWT enforces an HMAC-signed JWT whose role may reset kiosks (admin or
// staff). Other roles get 403.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin auth disabled", http.StatusUnauthorized)
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims, role, err := auth.ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !role.CanResetKiosk() {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), staffClaimsKey, StaffClaims{Claims: claims, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaimsFromContext returns the staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(StaffClaims)
	return claims, ok
}
