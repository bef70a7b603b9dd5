// Package notify sends patient-facing email from the kiosk service.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// DefaultFromName signs patient email when SENDGRID_FROM_NAME is unset.
const DefaultFromName = "MediWay"

var errNoMailClient = errors.New("notify: sendgrid client not configured")

// EmailSender delivers one patient email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a patient email. Body is plain text; HTML falls back to
// Body when empty.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// mailClient is the slice of *sendgrid.Client the sender uses.
type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers patient email through SendGrid from the clinic's
// registration address.
type SendGridSender struct {
	client    mailClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig is read from the SENDGRID_* settings.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured so callers can
// fall back to the stub sender.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.FromName) == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) compose(msg EmailMessage) *mail.SGMailV3 {
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	return mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)
}

// Send delivers msg. Any status of 400 or above is a failure. Patient
// addresses only reach the logs masked.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errNoMailClient
	}
	logger := s.logger
	if logger == nil {
		logger = logging.Default()
	}
	to := MaskEmail(msg.To)

	resp, err := s.client.SendWithContext(ctx, s.compose(msg))
	if err != nil {
		logger.Error("patient email not delivered", "to", to, "error", err)
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		logger.Error("patient email rejected by sendgrid", "to", to, "status", resp.StatusCode)
		return fmt.Errorf("notify: sendgrid status %d", resp.StatusCode)
	}
	logger.Info("patient email sent", "to", to, "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}

// StubEmailSender stands in for SendGrid on kiosks without an API key. It
// logs the masked recipient and reports success.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("patient email skipped, no sendgrid key", "to", MaskEmail(msg.To), "subject", msg.Subject)
	return nil
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
