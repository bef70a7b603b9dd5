package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/mediway-kiosk/internal/api/router"
	"github.com/wolfman30/mediway-kiosk/internal/app/bootstrap"
	appconfig "github.com/wolfman30/mediway-kiosk/internal/config"
	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/mediway-kiosk/internal/http/middleware"
	"github.com/wolfman30/mediway-kiosk/internal/notify"
	"github.com/wolfman30/mediway-kiosk/internal/observability/metrics"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

func main() {
	// Local development reads .env; deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting mediway kiosk server",
		"env", cfg.Env,
		"port", cfg.Port,
		"session_backend", cfg.SessionBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, err := bootstrap.BuildSessionBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up kiosk sessions", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sessions.Close() }()

	metricsHandler, wizardMetrics := setupMetrics()

	api, err := bootstrap.BuildGateway(cfg, wizardMetrics, logger)
	if err != nil {
		logger.Error("failed to create registration api client", "error", err)
		os.Exit(1)
	}

	readyChecks := map[string]func(context.Context) error{"sessions": sessions.Ping}

	var recorder events.Recorder = events.NopRecorder{}
	var lister handlers.EventLister
	if pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		store := events.NewStore(pool)
		recorder, lister = store, store
		readyChecks["events"] = pool.Ping
		logger.Info("wizard event log enabled")
	}

	welcome := notify.NewWelcomeService(bootstrap.BuildEmailSender(cfg, logger), cfg.SendGridFromName, logger)

	registry := bootstrap.BuildRegistry(cfg, bootstrap.WizardDeps{
		Backend:  sessions,
		API:      api,
		Recorder: recorder,
		Notifier: welcome,
		Metrics:  wizardMetrics,
		Logger:   logger,
	})
	go registry.RunEviction(ctx, time.Minute, cfg.WizardIdleTTL)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)

	r := router.New(&router.Config{
		Logger:             logger,
		KioskWizard:        handlers.NewKioskWizardHandler(registry, cfg.DocumentMaxBytes, logger),
		AdminKiosks:        handlers.NewAdminKioskHandler(registry, lister, wizardMetrics, logger),
		RateLimiter:        limiter,
		StaffJWTSecret:     cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		SecureCookies:      cfg.IsProduction(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ReadyChecks:        readyChecks,
	})

	// WriteTimeout stays at zero when the registration API timeout is unset so
	// a slow upstream submit is not cut off mid-response.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.RegistrationAPITimeout > 0 {
		srv.WriteTimeout = 4*cfg.RegistrationAPITimeout + 15*time.Second
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the wizard collectors on a private registry.
func setupMetrics() (http.Handler, *metrics.WizardMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewWizardMetrics(reg)
}
