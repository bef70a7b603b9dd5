package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/mediway-kiosk/internal/registration/wizard"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// WelcomeService emails newly registered patients. It satisfies
// wizard.Notifier.
type WelcomeService struct {
	email    EmailSender
	sitename string
	logger   *logging.Logger
}

// NewWelcomeService wraps an EmailSender. A nil sender disables sending.
func NewWelcomeService(email EmailSender, sitename string, logger *logging.Logger) *WelcomeService {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(sitename) == "" {
		sitename = "MediWay"
	}
	return &WelcomeService{email: email, sitename: sitename, logger: logger}
}

// SendWelcome sends the registration confirmation, including the patient
// reference printed on the kiosk's QR code.
func (s *WelcomeService) SendWelcome(ctx context.Context, msg wizard.Welcome) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping welcome email")
		return nil
	}
	if strings.TrimSpace(msg.Email) == "" {
		return fmt.Errorf("notify: welcome email needs a recipient")
	}
	return s.email.Send(ctx, welcomeMessage(s.sitename, msg))
}

func welcomeMessage(sitename string, msg wizard.Welcome) EmailMessage {
	name := strings.TrimSpace(msg.FirstName)
	greeting := "Hello,"
	if name != "" {
		greeting = fmt.Sprintf("Hello %s,", name)
	}

	var body strings.Builder
	body.WriteString(greeting + "\n\n")
	body.WriteString(fmt.Sprintf("Your %s patient registration is complete.\n", sitename))
	if msg.PatientReference != "" {
		body.WriteString(fmt.Sprintf("Your patient reference is %s. Show it at reception when you check in.\n", msg.PatientReference))
	}
	body.WriteString("\nYou can now sign in with the email address you registered.\n")

	var htmlBody strings.Builder
	htmlBody.WriteString("<p>" + html.EscapeString(greeting) + "</p>")
	htmlBody.WriteString("<p>Your " + html.EscapeString(sitename) + " patient registration is complete.</p>")
	if msg.PatientReference != "" {
		htmlBody.WriteString("<p>Your patient reference is <strong>" + html.EscapeString(msg.PatientReference) + "</strong>. Show it at reception when you check in.</p>")
	}
	htmlBody.WriteString("<p>You can now sign in with the email address you registered.</p>")

	return EmailMessage{
		To:      msg.Email,
		ToName:  name,
		Subject: fmt.Sprintf("Welcome to %s", sitename),
		Body:    body.String(),
		HTML:    htmlBody.String(),
	}
}
