package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, " + KioskHeader + ", X-Request-ID"
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS"
	corsExposeHeaders = KioskHeader + ", X-Request-ID"
	corsMaxAge        = "600"
)

// originPolicy decides which kiosk shell origins may call the service.
// Listed origins may send the kiosk_id cookie; a "*" entry admits any origin
// without credentials.
type originPolicy struct {
	listed   map[string]struct{}
	wildcard bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{listed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.listed[origin] = struct{}{}
		}
	}
	return p
}

// decide reports whether origin is admitted and whether it may send
// credentials.
func (p originPolicy) decide(origin string) (allowed, credentials bool) {
	if origin == "" {
		return false, false
	}
	if _, ok := p.listed[origin]; ok {
		return true, true
	}
	return p.wildcard, false
}

// CORS admits browser-based kiosk shells served from the configured origins.
// Preflight requests from an admitted origin are answered here.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed, credentials := policy.decide(origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				if credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if allowed && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
