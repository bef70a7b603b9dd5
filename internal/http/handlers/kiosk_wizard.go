package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/wolfman30/mediway-kiosk/internal/auth"
	"github.com/wolfman30/mediway-kiosk/internal/http/middleware"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/validate"
	"github.com/wolfman30/mediway-kiosk/internal/registration/wizard"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// multipartOverhead is the allowance for form fields and part headers on top
// of the document itself.
const multipartOverhead = 1 << 20

// WizardRegistry resolves a kiosk's wizard. *wizard.Registry satisfies it.
type WizardRegistry interface {
	Get(ctx context.Context, kioskID string) (*wizard.Wizard, error)
	Reset(ctx context.Context, kioskID, reason string) error
}

// KioskWizardHandler serves the registration wizard to kiosk screens.
type KioskWizardHandler struct {
	registry    WizardRegistry
	maxDocBytes int64
	logger      *logging.Logger
}

// NewKioskWizardHandler creates the kiosk wizard handler. maxDocBytes <= 0
// falls back to the validator's limit.
func NewKioskWizardHandler(registry WizardRegistry, maxDocBytes int64, logger *logging.Logger) *KioskWizardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxDocBytes <= 0 {
		maxDocBytes = validate.MaxDocumentBytes
	}
	return &KioskWizardHandler{registry: registry, maxDocBytes: maxDocBytes, logger: logger}
}

// wizardFor loads the request's kiosk wizard, writing the error response
// itself when it cannot.
func (h *KioskWizardHandler) wizardFor(w http.ResponseWriter, r *http.Request) (*wizard.Wizard, bool) {
	kioskID, ok := middleware.KioskIDFromContext(r.Context())
	if !ok {
		jsonError(w, "kiosk id required", http.StatusBadRequest)
		return nil, false
	}
	wiz, err := h.registry.Get(r.Context(), kioskID)
	if err != nil {
		h.logger.Error("failed to load kiosk wizard", "kiosk_id", kioskID, "error", err)
		jsonError(w, genericFailure, http.StatusInternalServerError)
		return nil, false
	}
	return wiz, true
}

// respond writes the post-action view, or the error with the view attached.
func (h *KioskWizardHandler) respond(w http.ResponseWriter, r *http.Request, wiz *wizard.Wizard, actionErr error) {
	view, err := wiz.View(r.Context())
	if err != nil {
		h.logger.Error("failed to build wizard view", "kiosk_id", wiz.KioskID(), "error", err)
		jsonError(w, genericFailure, http.StatusInternalServerError)
		return
	}
	if actionErr != nil {
		writeWizardError(w, actionErr, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetWizard returns the active step's view.
// GET /wizard
func (h *KioskWizardHandler) GetWizard(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	h.respond(w, r, wiz, nil)
}

// SubmitPersonalInfo handles step 1.
// POST /wizard/personal-info
func (h *KioskWizardHandler) SubmitPersonalInfo(w http.ResponseWriter, r *http.Request) {
	var req wizard.PersonalInfo
	if !decodeJSON(w, r, &req) {
		return
	}
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	_, err := wiz.SubmitPersonalInfo(r.Context(), req)
	h.respond(w, r, wiz, err)
}

// SubmitDocument handles step 2: multipart with documentType, idNumber and
// file.
// POST /wizard/document
func (h *KioskWizardHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxDocBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxDocBytes + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			// Let the wizard reject it so the step records the failure.
			_, err = wiz.SubmitDocument(r.Context(), wizard.Document{FileName: "upload", Size: h.maxDocBytes + 1})
			h.respond(w, r, wiz, err)
			return
		}
		jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	doc := wizard.Document{
		DocumentType: r.FormValue("documentType"),
		IDNumber:     r.FormValue("idNumber"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		jsonError(w, "invalid file part", http.StatusBadRequest)
		return
	default:
		defer file.Close()
		doc.FileName = header.Filename
		doc.ContentType = partContentType(header)
		doc.Size = header.Size
		doc.Content = file
	}
	_, err = wiz.SubmitDocument(r.Context(), doc)
	h.respond(w, r, wiz, err)
}

func partContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// SubmitMedicalInfo handles step 3.
// POST /wizard/medical-info
func (h *KioskWizardHandler) SubmitMedicalInfo(w http.ResponseWriter, r *http.Request) {
	var req wizard.MedicalInfo
	if !decodeJSON(w, r, &req) {
		return
	}
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	_, err := wiz.SubmitMedicalInfo(r.Context(), req)
	h.respond(w, r, wiz, err)
}

type checkEmailRequest struct {
	Email string `json:"email"`
}

// CheckEmail is step 4's on-blur availability check.
// POST /wizard/check-email
func (h *KioskWizardHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var req checkEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	status, err := wiz.CheckEmail(r.Context(), req.Email)
	if err != nil {
		h.respond(w, r, wiz, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type credentialsResponse struct {
	wizard.View
	CanSubmit bool `json:"canSubmit"`
}

// SubmitCredentials handles step 4. With ?dryRun=true it only reports whether
// the submit control should be enabled.
// POST /wizard/credentials
func (h *KioskWizardHandler) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	var req wizard.CommunicationCredentials
	if !decodeJSON(w, r, &req) {
		return
	}
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("dryRun") == "true" {
		view, err := wiz.View(r.Context())
		if err != nil {
			jsonError(w, genericFailure, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, credentialsResponse{View: view, CanSubmit: wiz.CanSubmitCredentials(req)})
		return
	}
	_, err := wiz.SubmitCredentials(r.Context(), req)
	h.respond(w, r, wiz, err)
}

// Back moves to the previous step.
// POST /wizard/back
func (h *KioskWizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	h.respond(w, r, wiz, wiz.Back(r.Context()))
}

// Continue moves from the confirmation screen to the final screen.
// POST /wizard/continue
func (h *KioskWizardHandler) Continue(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	h.respond(w, r, wiz, wiz.Continue(r.Context()))
}

// Finish is the "go home" action: the kiosk's session and token are cleared.
// POST /wizard/finish
func (h *KioskWizardHandler) Finish(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	h.respond(w, r, wiz, wiz.GoHome(r.Context()))
}

type accountResponse struct {
	User      json.RawMessage `json:"user"`
	Role      string          `json:"role,omitempty"`
	HomeRoute string          `json:"homeRoute,omitempty"`
}

// Account returns the registered user using the token stored at completion.
// GET /wizard/account
func (h *KioskWizardHandler) Account(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.wizardFor(w, r)
	if !ok {
		return
	}
	raw, err := wiz.Account(r.Context())
	if err != nil {
		status, msg := classify(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to fetch account", "kiosk_id", wiz.KioskID(), "error", err)
		}
		jsonError(w, msg, status)
		return
	}
	resp := accountResponse{User: raw}
	if user, err := gateway.DecodeUser(raw); err == nil {
		if role, err := auth.ParseRole(user.Role); err == nil {
			resp.Role = role.String()
			resp.HomeRoute, _ = role.HomeRoute()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(out); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
