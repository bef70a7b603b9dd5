package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/validate"
	"github.com/wolfman30/mediway-kiosk/internal/registration/wizard"
)

const genericFailure = "Something went wrong. Please try again."

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorResponse is the body of every failed wizard action. View is the
// wizard's state after the failure so the screen can re-render in place.
type errorResponse struct {
	Error  string            `json:"error"`
	Field  string            `json:"field,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	View   *wizard.View      `json:"view,omitempty"`
}

// classify maps a wizard error to its HTTP status and display message.
func classify(err error) (int, string) {
	var vErr *validate.Error
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, vErr.Message
	case errors.Is(err, wizard.ErrEmailUnavailable):
		return http.StatusUnprocessableEntity, wizard.MsgEmailTaken
	case errors.Is(err, wizard.ErrMissingRegistrationID):
		return http.StatusConflict, wizard.ErrMissingRegistrationID.Error()
	case errors.Is(err, wizard.ErrSubmitInFlight):
		return http.StatusConflict, "Your previous submission is still being processed."
	case errors.Is(err, wizard.ErrWrongStep), errors.Is(err, wizard.ErrNoPreviousStep):
		return http.StatusConflict, "That action is not available on this step."
	case errors.Is(err, wizard.ErrSuperseded):
		return http.StatusConflict, "This kiosk was reset. Please start again."
	case errors.Is(err, gateway.ErrUnauthenticated):
		return http.StatusUnauthorized, "Please complete registration first."
	}
	var stepErr *wizard.StepError
	if errors.As(err, &stepErr) {
		return http.StatusBadGateway, stepErr.Message
	}
	if msg, ok := gateway.ServerMessage(err); ok {
		return http.StatusBadGateway, msg
	}
	return http.StatusInternalServerError, genericFailure
}

func writeWizardError(w http.ResponseWriter, err error, view *wizard.View) {
	status, msg := classify(err)
	resp := errorResponse{Error: msg, View: view}
	var vErr *validate.Error
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
		resp.Fields = vErr.Fields
	}
	writeJSON(w, status, resp)
}
