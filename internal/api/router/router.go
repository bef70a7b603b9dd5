package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/mediway-kiosk/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/mediway-kiosk/internal/http/middleware"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	KioskWizard    *handlers.KioskWizardHandler
	AdminKiosks    *handlers.AdminKioskHandler
	RateLimiter    *httpmiddleware.RateLimiter
	StaffJWTSecret string
	MetricsHandler http.Handler
	SecureCookies  bool

	CORSAllowedOrigins []string

	// ReadyChecks are run by /ready; any error marks the service unready.
	ReadyChecks map[string]func(context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", ready(cfg.ReadyChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.KioskWizard != nil {
		r.Route("/wizard", func(wiz chi.Router) {
			if cfg.RateLimiter != nil {
				wiz.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			wiz.Use(httpmiddleware.KioskIdentity(cfg.SecureCookies))
			h := cfg.KioskWizard
			wiz.Get("/", h.GetWizard)
			wiz.Post("/personal-info", h.SubmitPersonalInfo)
			wiz.Post("/document", h.SubmitDocument)
			wiz.Post("/medical-info", h.SubmitMedicalInfo)
			wiz.Post("/check-email", h.CheckEmail)
			wiz.Post("/credentials", h.SubmitCredentials)
			wiz.Post("/back", h.Back)
			wiz.Post("/continue", h.Continue)
			wiz.Post("/finish", h.Finish)
			wiz.Get("/account", h.Account)
		})
	}

	// Staff routes are only mounted when a signing secret is configured.
	if cfg.AdminKiosks != nil && cfg.StaffJWTSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
			admin.Delete("/kiosks/{kioskID}", cfg.AdminKiosks.ResetKiosk)
			admin.Get("/kiosks/{kioskID}/events", cfg.AdminKiosks.ListKioskEvents)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "unavailable"
		}
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
