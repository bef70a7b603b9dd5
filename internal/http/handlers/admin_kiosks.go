package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/http/middleware"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// EventLister reads a kiosk's audit trail. *events.Store satisfies it.
type EventLister interface {
	ListByKiosk(ctx context.Context, kioskID string, limit int32) ([]events.WizardEvent, error)
}

// ResetObserver counts staff resets.
type ResetObserver interface {
	ObserveKioskReset()
}

// AdminKioskHandler lets staff recover a stuck kiosk.
type AdminKioskHandler struct {
	registry WizardRegistry
	events   EventLister
	observer ResetObserver
	logger   *logging.Logger
}

// NewAdminKioskHandler creates the staff kiosk handler. lister and observer
// may be nil.
func NewAdminKioskHandler(registry WizardRegistry, lister EventLister, observer ResetObserver, logger *logging.Logger) *AdminKioskHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminKioskHandler{registry: registry, events: lister, observer: observer, logger: logger}
}

// ResetKioskResponse confirms a reset.
type ResetKioskResponse struct {
	KioskID string `json:"kiosk_id"`
	Reset   bool   `json:"reset"`
}

// ResetKiosk clears the kiosk's session and token and drops any in-flight
// result.
// DELETE /admin/kiosks/{kioskID}
func (h *AdminKioskHandler) ResetKiosk(w http.ResponseWriter, r *http.Request) {
	kioskID := strings.TrimSpace(chi.URLParam(r, "kioskID"))
	if !middleware.ValidKioskID(kioskID) {
		jsonError(w, "invalid kiosk id", http.StatusBadRequest)
		return
	}

	reason := "staff reset"
	if staff, ok := middleware.StaffClaimsFromContext(r.Context()); ok && staff.Claims != nil {
		who := staff.Claims.UserID
		if who == "" {
			who = staff.Claims.Subject
		}
		if who != "" {
			reason = "staff reset by " + who
		}
	}

	if err := h.registry.Reset(r.Context(), kioskID, reason); err != nil {
		h.logger.Error("failed to reset kiosk", "kiosk_id", kioskID, "error", err)
		jsonError(w, "Failed to reset kiosk", http.StatusInternalServerError)
		return
	}
	if h.observer != nil {
		h.observer.ObserveKioskReset()
	}
	h.logger.Info("kiosk reset", "kiosk_id", kioskID, "reason", reason)
	writeJSON(w, http.StatusOK, ResetKioskResponse{KioskID: kioskID, Reset: true})
}

// ListKioskEventsResponse is a page of a kiosk's audit trail.
type ListKioskEventsResponse struct {
	KioskID string               `json:"kiosk_id"`
	Events  []events.WizardEvent `json:"events"`
}

// ListKioskEvents returns the kiosk's most recent wizard events.
// GET /admin/kiosks/{kioskID}/events?limit=50
func (h *AdminKioskHandler) ListKioskEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		jsonError(w, "event log not configured", http.StatusNotFound)
		return
	}
	kioskID := strings.TrimSpace(chi.URLParam(r, "kioskID"))
	if !middleware.ValidKioskID(kioskID) {
		jsonError(w, "invalid kiosk id", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			jsonError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := h.events.ListByKiosk(r.Context(), kioskID, int32(limit))
	if err != nil {
		h.logger.Error("failed to list kiosk events", "kiosk_id", kioskID, "error", err)
		jsonError(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []events.WizardEvent{}
	}
	writeJSON(w, http.StatusOK, ListKioskEventsResponse{KioskID: kioskID, Events: list})
}
