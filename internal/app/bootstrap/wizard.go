package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/mediway-kiosk/internal/config"
	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/notify"
	"github.com/wolfman30/mediway-kiosk/internal/observability/metrics"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/internal/registration/wizard"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// BuildEmailSender returns the SendGrid sender when an API key is configured
// and a logging stub otherwise.
func BuildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if cfg != nil {
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sg != nil {
			return sg
		}
	}
	return notify.NewStubEmailSender(logger)
}

// BuildGateway creates the registration API client with call metrics.
func BuildGateway(cfg *appconfig.Config, m *metrics.WizardMetrics, logger *logging.Logger) (*gateway.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	return gateway.New(gateway.Config{
		BaseURL:  cfg.RegistrationAPIBaseURL,
		Timeout:  cfg.RegistrationAPITimeout,
		Logger:   logger,
		Observer: m,
	})
}

// WizardDeps are the shared collaborators every kiosk wizard uses.
type WizardDeps struct {
	Backend  session.Backend
	API      wizard.Registrar
	Recorder events.Recorder
	Notifier wizard.Notifier
	Metrics  *metrics.WizardMetrics
	Logger   *logging.Logger
}

// BuildRegistry returns the per-kiosk wizard registry.
func BuildRegistry(cfg *appconfig.Config, deps WizardDeps) *wizard.Registry {
	var maxDoc int64
	if cfg != nil {
		maxDoc = cfg.DocumentMaxBytes
	}
	var observer wizard.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	return wizard.NewRegistry(func(kioskID string) (*wizard.Wizard, error) {
		return wizard.New(wizard.Config{
			KioskID:          kioskID,
			Backend:          deps.Backend,
			API:              deps.API,
			Recorder:         deps.Recorder,
			Notifier:         deps.Notifier,
			Observer:         observer,
			Logger:           deps.Logger,
			MaxDocumentBytes: maxDoc,
		})
	})
}
