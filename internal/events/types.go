// Package events records the registration wizard's audit trail. Events carry
// kiosk and registration identifiers only; no patient details are stored.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names follow <area>.<what>.v<n>.
const (
	TypeStepSubmitted         = "wizard.step_submitted.v1"
	TypeStepFailed            = "wizard.step_failed.v1"
	TypeRegistrationCompleted = "wizard.registration_completed.v1"
	TypeSessionCleared        = "wizard.session_cleared.v1"
	TypeKioskReset            = "wizard.kiosk_reset.v1"
)

// WizardEvent is one audit row.
type WizardEvent struct {
	ID             uuid.UUID `json:"id"`
	KioskID        string    `json:"kiosk_id"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Type           string    `json:"type"`
	Step           string    `json:"step,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recorder persists wizard events. Implementations must be safe for
// concurrent use by many kiosks.
type Recorder interface {
	Record(ctx context.Context, event WizardEvent) error
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, WizardEvent) error { return nil }
