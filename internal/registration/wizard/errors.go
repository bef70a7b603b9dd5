package wizard

import (
	"errors"

	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/internal/registration/validate"
)

var (
	// ErrMissingRegistrationID means a step 2+ submit found no registration
	// ID in the session. The patient has to restart from step 1.
	ErrMissingRegistrationID = errors.New("Missing registration ID. Please restart registration from step 1.")
	// ErrSubmitInFlight rejects a submit while the same step is still
	// waiting on the registration API.
	ErrSubmitInFlight = errors.New("wizard: submission already in progress")
	// ErrEmailUnavailable means the availability check reported the email as
	// taken.
	ErrEmailUnavailable = errors.New("Email is already registered")
	// ErrWrongStep rejects an action that does not belong to the current step.
	ErrWrongStep = errors.New("wizard: action not available on the current step")
	// ErrNoPreviousStep is returned by Back on the first step and after
	// completion.
	ErrNoPreviousStep = errors.New("wizard: no previous step")
	// ErrSuperseded means the wizard was reset while a call was in flight;
	// the call's result was discarded.
	ErrSuperseded = errors.New("wizard: session was reset")
)

// MsgEmailTaken is shown when the availability check fails the email.
const MsgEmailTaken = "Email is already registered"

const (
	fallbackPersonalInfo = "Failed to save personal information. Please try again."
	fallbackDocument     = "Failed to upload document. Please try again."
	fallbackMedicalInfo  = "Failed to save medical information. Please try again."
	fallbackCredentials  = "Failed to complete registration. Please try again."
	fallbackEmailCheck   = "Unable to verify email availability. Please try again."
)

// StepError is a failed submit. Message is what the step shows.
type StepError struct {
	Step    session.Step
	Message string
	Err     error
}

func (e *StepError) Error() string { return e.Message }
func (e *StepError) Unwrap() error { return e.Err }

// Message normalises any wizard failure into one displayable string: local
// validation messages and server messages pass through, everything else
// becomes fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Message
	}
	var vErr *validate.Error
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	switch {
	case errors.Is(err, ErrMissingRegistrationID):
		return ErrMissingRegistrationID.Error()
	case errors.Is(err, ErrEmailUnavailable):
		return MsgEmailTaken
	}
	if msg, ok := gateway.ServerMessage(err); ok {
		return msg
	}
	return fallback
}
