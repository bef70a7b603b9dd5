package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// KioskHeader names the kiosk on requests from managed kiosk shells.
	KioskHeader = "X-Kiosk-ID"
	// KioskCookie carries the issued kiosk ID for browser-based shells.
	KioskCookie = "kiosk_id"

	kioskIDKey contextKey = "kioskID"
)

var kioskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// KioskIdentity resolves the kiosk from the X-Kiosk-ID header or the kiosk_id
// cookie. A request carrying neither is issued a new ID in a cookie.
func KioskIdentity(secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(KioskHeader))
			if id == "" {
				if c, err := r.Cookie(KioskCookie); err == nil {
					id = strings.TrimSpace(c.Value)
				}
			}
			if id != "" && !ValidKioskID(id) {
				http.Error(w, "invalid kiosk id", http.StatusBadRequest)
				return
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     KioskCookie,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secureCookie,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   365 * 24 * 60 * 60,
				})
			}
			w.Header().Set(KioskHeader, id)
			next.ServeHTTP(w, r.WithContext(WithKioskID(r.Context(), id)))
		})
	}
}

// ValidKioskID reports whether id is an acceptable kiosk identifier.
func ValidKioskID(id string) bool {
	return kioskIDPattern.MatchString(id)
}

// WithKioskID stores a kiosk ID in ctx.
func WithKioskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, kioskIDKey, id)
}

// KioskIDFromContext returns the kiosk ID set by KioskIdentity.
func KioskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(kioskIDKey).(string)
	return id, ok && id != ""
}
