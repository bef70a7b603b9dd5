// Package wizard runs the patient registration wizard for one kiosk: it
// sequences the steps, drives each step's submit state machine, and keeps the
// persisted session blob in step with the registration API.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/mediway-kiosk/internal/auth"
	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// TotalSteps is the number of positions on the progress indicator. Both
// completion screens share the last position.
const TotalSteps = 5

// Registrar is the subset of the registration API the wizard calls.
// *gateway.Client satisfies it.
type Registrar interface {
	StartRegistration(ctx context.Context) (string, error)
	SavePersonalInfo(ctx context.Context, req gateway.PersonalInfoRequest) (*gateway.Registration, error)
	UploadDocument(ctx context.Context, doc gateway.DocumentUpload) (*gateway.Registration, error)
	SaveMedicalInfo(ctx context.Context, req gateway.MedicalInfoRequest) (*gateway.Registration, error)
	SaveCommunication(ctx context.Context, req gateway.CommunicationRequest) (*gateway.Registration, error)
	SaveCredentials(ctx context.Context, req gateway.CredentialsRequest) (*gateway.Registration, error)
	CheckEmail(ctx context.Context, email string) (*gateway.EmailAvailability, error)
	CompleteRegistration(ctx context.Context, registrationID string) (*gateway.Completion, error)
	CurrentUser(ctx context.Context, token string) (json.RawMessage, error)
}

// Welcome is what a Notifier needs to greet a newly registered patient.
type Welcome struct {
	Email            string
	FirstName        string
	PatientReference string
}

// Notifier sends the welcome message after completion when the patient opted
// in to email notifications.
type Notifier interface {
	SendWelcome(ctx context.Context, msg Welcome) error
}

// Observer receives step outcomes ("succeeded", "failed", "rejected") and
// completions.
type Observer interface {
	ObserveStep(step, outcome string)
	ObserveCompletion()
}

// Config wires a Wizard. KioskID, Backend and API are required.
type Config struct {
	KioskID          string
	Backend          session.Backend
	API              Registrar
	Recorder         events.Recorder
	Notifier         Notifier
	Observer         Observer
	Logger           *logging.Logger
	MaxDocumentBytes int64
	Now              func() time.Time
}

// Wizard is one kiosk's registration flow. All methods are safe for
// concurrent use; submits on the same step are serialised and a second submit
// while the first is in flight is refused.
type Wizard struct {
	kioskID     string
	store       *session.Store
	tokens      *session.TokenStore
	api         Registrar
	recorder    events.Recorder
	notifier    Notifier
	observer    Observer
	logger      *logging.Logger
	maxDocBytes int64
	now         func() time.Time

	mu       sync.Mutex
	step     session.Step
	machines map[session.Step]*machine
	email    emailCheck
	// gen changes whenever the session is torn down; results of calls
	// started under an older generation are dropped.
	gen uint64
}

type emailCheck struct {
	email     string
	checking  bool
	checked   bool
	available bool
	message   string
}

var formSteps = []session.Step{
	session.StepPersonalInfo,
	session.StepDocumentUpload,
	session.StepMedicalInfo,
	session.StepCommunicationCredentials,
}

// New builds a Wizard positioned on the first step. Call Resume to pick up a
// persisted session.
func New(cfg Config) (*Wizard, error) {
	kioskID := strings.TrimSpace(cfg.KioskID)
	if kioskID == "" {
		return nil, errors.New("wizard: kiosk id required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("wizard: session backend required")
	}
	if cfg.API == nil {
		return nil, errors.New("wizard: registration api required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = events.NopRecorder{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	w := &Wizard{
		kioskID:     kioskID,
		store:       session.NewStore(cfg.Backend, session.RegistrationKey(kioskID)),
		tokens:      session.NewTokenStore(cfg.Backend, session.TokenKey(kioskID)),
		api:         cfg.API,
		recorder:    recorder,
		notifier:    cfg.Notifier,
		observer:    cfg.Observer,
		logger:      logger.With("kiosk_id", kioskID),
		maxDocBytes: cfg.MaxDocumentBytes,
		now:         now,
		step:        session.StepPersonalInfo,
		machines:    make(map[session.Step]*machine, len(formSteps)),
	}
	for _, s := range formSteps {
		w.machines[s] = &machine{}
	}
	return w, nil
}

// KioskID returns the kiosk this wizard belongs to.
func (w *Wizard) KioskID() string { return w.kioskID }

// Current returns the active step as of the last call that read the
// persisted session.
func (w *Wizard) Current() session.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Progress returns the active step's fixed position as a percentage.
func (w *Wizard) Progress() int {
	return Progress(w.Current())
}

// State returns a form step's machine state. Completion screens are always
// idle.
func (w *Wizard) State(step session.Step) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.machines[step]; ok {
		return m.state
	}
	return State{}
}

// Resume positions the wizard from the persisted session.
func (w *Wizard) Resume(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	w.step = resumeStep(sess)
	for _, m := range w.machines {
		m.dispatch(event{kind: evReset})
	}
	w.email = emailCheck{}
	if sess.Credentials != nil && w.step == session.StepCommunicationCredentials {
		w.email.email = normalizeEmail(sess.Credentials.Email)
	}
	w.logger.Debug("wizard resumed", "step", w.step, "registration_id", sess.RegistrationID)
	return nil
}

// Busy reports whether a submit or an email check is in flight.
func (w *Wizard) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.email.checking {
		return true
	}
	for _, m := range w.machines {
		if m.state.Status == StatusSubmitting {
			return true
		}
	}
	return false
}

// syncLocked follows a step persisted by another process serving the same
// kiosk. Only an explicitly stored step is followed; a blob wiped underneath
// the wizard keeps the local position so later steps report the missing
// registration ID. A submit in flight here keeps the local position too.
func (w *Wizard) syncLocked(sess *session.Session) {
	if sess.Step == "" {
		return
	}
	if m, ok := w.machines[w.step]; ok && m.state.Status == StatusSubmitting {
		return
	}
	step := resumeStep(sess)
	if step == w.step {
		return
	}
	w.logger.Info("wizard step moved by another process", "from", w.step, "to", step, "registration_id", sess.RegistrationID)
	w.step = step
	if m, ok := w.machines[step]; ok {
		m.dispatch(event{kind: evReset})
	}
	w.email = emailCheck{}
	if sess.Credentials != nil && step == session.StepCommunicationCredentials {
		w.email.email = normalizeEmail(sess.Credentials.Email)
	}
}

func resumeStep(s *session.Session) session.Step {
	if s.Completed {
		if s.Step == session.StepFinish {
			return session.StepFinish
		}
		return session.StepConfirmation
	}
	if s.RegistrationID == "" || s.Personal == nil || s.Step == session.StepPersonalInfo {
		return session.StepPersonalInfo
	}
	switch s.Step {
	case session.StepDocumentUpload, session.StepMedicalInfo, session.StepCommunicationCredentials:
		return s.Step
	}
	switch {
	case s.Document == nil:
		return session.StepDocumentUpload
	case s.Medical == nil:
		return session.StepMedicalInfo
	default:
		return session.StepCommunicationCredentials
	}
}

// Back moves to the previous form step. It has no remote effect and is
// refused while the current step is submitting.
func (w *Wizard) Back(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	w.syncLocked(sess)
	prev, ok := previousStep(w.step)
	if !ok {
		return ErrNoPreviousStep
	}
	if w.machines[w.step].state.Status == StatusSubmitting {
		return ErrSubmitInFlight
	}
	if _, err := w.store.Merge(ctx, session.Patch{Step: prev}); err != nil {
		return err
	}
	w.step = prev
	w.machines[prev].dispatch(event{kind: evReset})
	return nil
}

func previousStep(step session.Step) (session.Step, bool) {
	switch step {
	case session.StepDocumentUpload:
		return session.StepPersonalInfo, true
	case session.StepMedicalInfo:
		return session.StepDocumentUpload, true
	case session.StepCommunicationCredentials:
		return session.StepMedicalInfo, true
	}
	return "", false
}

// Continue moves from the confirmation screen to the final screen.
func (w *Wizard) Continue(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.loadAndSyncLocked(ctx); err != nil {
		return err
	}
	if w.step != session.StepConfirmation {
		return ErrWrongStep
	}
	if _, err := w.store.Merge(ctx, session.Patch{Step: session.StepFinish}); err != nil {
		return err
	}
	w.step = session.StepFinish
	return nil
}

// GoHome is the terminal action: the persisted session and token are
// removed and the wizard starts over for the next patient.
func (w *Wizard) GoHome(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.loadAndSyncLocked(ctx); err != nil {
		return err
	}
	if w.step != session.StepFinish {
		return ErrWrongStep
	}
	return w.teardownLocked(ctx, events.TypeSessionCleared, "")
}

// Reset discards the kiosk's session from any state. Calls still in flight
// complete against the registration API but their results are dropped.
func (w *Wizard) Reset(ctx context.Context, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.teardownLocked(ctx, events.TypeKioskReset, reason)
}

func (w *Wizard) loadAndSyncLocked(ctx context.Context) error {
	sess, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	w.syncLocked(sess)
	return nil
}

func (w *Wizard) teardownLocked(ctx context.Context, eventType, reason string) error {
	var registrationID string
	if sess, err := w.store.Load(ctx); err == nil {
		registrationID = sess.RegistrationID
	}
	if err := w.store.Clear(ctx); err != nil {
		return err
	}
	if err := w.tokens.Clear(ctx); err != nil {
		return err
	}
	w.gen++
	w.step = session.StepPersonalInfo
	for _, m := range w.machines {
		m.dispatch(event{kind: evReset})
	}
	w.email = emailCheck{}
	w.record(ctx, eventType, registrationID, "", reason)
	w.logger.Info("wizard session cleared", "registration_id", registrationID, "event", eventType)
	return nil
}

// Account fetches the signed-in user with the token stored at completion.
func (w *Wizard) Account(ctx context.Context) (json.RawMessage, error) {
	token, err := w.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, gateway.ErrUnauthenticated
	}
	return w.api.CurrentUser(ctx, token)
}

// attempt is a claimed submit on one step.
type attempt struct {
	step session.Step
	gen  uint64
	sess *session.Session
}

// begin claims step for a submit. check runs before the machine enters
// Submitting; an error from it rejects the submit without any remote call.
func (w *Wizard) begin(ctx context.Context, step session.Step, check func(*session.Session) error) (attempt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, err := w.store.Load(ctx)
	if err != nil {
		return attempt{}, err
	}
	w.syncLocked(sess)
	if w.step != step {
		return attempt{}, ErrWrongStep
	}
	m := w.machines[step]
	if m.state.Status == StatusSubmitting {
		return attempt{}, ErrSubmitInFlight
	}
	if check != nil {
		if err := check(sess); err != nil {
			msg := Message(err, "")
			m.dispatch(event{kind: evReject, reason: msg})
			w.observe(step, "rejected")
			w.record(ctx, events.TypeStepFailed, sess.RegistrationID, step, msg)
			return attempt{}, &StepError{Step: step, Message: msg, Err: err}
		}
	}
	m.dispatch(event{kind: evSubmit})
	return attempt{step: step, gen: w.gen, sess: sess}, nil
}

// adoptRegistrationID persists a freshly issued registration ID so a retry
// of step 1 reuses it.
func (w *Wizard) adoptRegistrationID(ctx context.Context, a attempt, registrationID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != a.gen {
		return ErrSuperseded
	}
	_, err := w.store.Merge(ctx, session.Patch{RegistrationID: registrationID})
	return err
}

// outcome is the result of a step's remote calls.
type outcome struct {
	patch    session.Patch
	next     session.Step
	token    string
	err      error
	fallback string
}

// finish applies an attempt's outcome: on success the patch is merged and the
// wizard advances, on failure the step keeps the normalised message.
func (w *Wizard) finish(ctx context.Context, a attempt, out outcome) (*session.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != a.gen {
		w.logger.Info("dropping result of superseded submit", "step", a.step)
		return nil, ErrSuperseded
	}
	m := w.machines[a.step]

	var sess *session.Session
	err := out.err
	if err == nil {
		out.patch.Step = out.next
		sess, err = w.store.Merge(ctx, out.patch)
	}
	if err != nil {
		msg := Message(err, out.fallback)
		m.dispatch(event{kind: evFail, reason: msg})
		w.observe(a.step, "failed")
		w.record(ctx, events.TypeStepFailed, a.sess.RegistrationID, a.step, msg)
		w.logger.Warn("wizard step failed", "step", a.step, "registration_id", a.sess.RegistrationID, "error", err)
		return nil, &StepError{Step: a.step, Message: msg, Err: err}
	}

	// The registration is complete server side once the merge lands; a lost
	// token only affects Account.
	if out.token != "" {
		if err := w.tokens.SetToken(ctx, out.token); err != nil {
			w.logger.Warn("failed to store completion token", "registration_id", sess.RegistrationID, "error", err)
		}
	}
	m.dispatch(event{kind: evSucceed})
	w.step = out.next
	w.observe(a.step, "succeeded")
	w.record(ctx, events.TypeStepSubmitted, sess.RegistrationID, a.step, "")
	w.logger.Info("wizard step submitted", "step", a.step, "next", out.next, "registration_id", sess.RegistrationID)
	return sess, nil
}

func (w *Wizard) observe(step session.Step, result string) {
	if w.observer != nil {
		w.observer.ObserveStep(string(step), result)
	}
}

func (w *Wizard) record(ctx context.Context, eventType, registrationID string, step session.Step, reason string) {
	err := w.recorder.Record(ctx, events.WizardEvent{
		KioskID:        w.kioskID,
		RegistrationID: registrationID,
		Type:           eventType,
		Step:           string(step),
		Reason:         reason,
	})
	if err != nil {
		w.logger.Warn("failed to record wizard event", "type", eventType, "error", err)
	}
}

// Progress maps a step to its fixed position as a percentage.
func Progress(step session.Step) int {
	return Position(step) * 100 / TotalSteps
}

// Position is the step's 1-based place on the progress indicator.
func Position(step session.Step) int {
	switch step {
	case session.StepPersonalInfo:
		return 1
	case session.StepDocumentUpload:
		return 2
	case session.StepMedicalInfo:
		return 3
	case session.StepCommunicationCredentials:
		return 4
	case session.StepConfirmation, session.StepFinish:
		return 5
	}
	return 1
}

// Title is the heading the card shell shows for step.
func Title(step session.Step) string {
	switch step {
	case session.StepDocumentUpload:
		return "Identity Document"
	case session.StepMedicalInfo:
		return "Medical Information"
	case session.StepCommunicationCredentials:
		return "Communication & Account"
	case session.StepConfirmation:
		return "Registration Complete"
	case session.StepFinish:
		return "You're All Set"
	default:
		return "Personal Information"
	}
}

// Confirmation is what the confirmation screen renders after completion.
type Confirmation struct {
	PatientReference string `json:"patientReference,omitempty"`
	QRPayload        string `json:"qrPayload,omitempty"`
	Role             string `json:"role,omitempty"`
	HomeRoute        string `json:"homeRoute,omitempty"`
}

// QRPrefix prefixes the patient reference in the confirmation QR payload.
const QRPrefix = "mediway:patient:"

func confirmationFor(data *session.CompletionData) *Confirmation {
	c := &Confirmation{}
	if data == nil {
		return c
	}
	if p, err := gateway.DecodePatient(data.Patient); err == nil && p.Reference() != "" {
		c.PatientReference = p.Reference()
		c.QRPayload = QRPrefix + c.PatientReference
	}
	role := data.Role
	if role == "" {
		if u, err := gateway.DecodeUser(data.User); err == nil {
			role = u.Role
		}
	}
	if r, err := auth.ParseRole(role); err == nil {
		c.Role = r.String()
		c.HomeRoute, _ = r.HomeRoute()
	}
	return c
}

// EmailStatus is the on-blur availability feedback for the account email.
type EmailStatus struct {
	Email     string `json:"email"`
	Checking  bool   `json:"checking"`
	Checked   bool   `json:"checked"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

func (e emailCheck) status() EmailStatus {
	return EmailStatus{
		Email:     e.email,
		Checking:  e.checking,
		Checked:   e.checked,
		Available: e.available,
		Message:   e.message,
	}
}

// View is everything the card shell needs to render the active step.
type View struct {
	KioskID        string           `json:"kioskId"`
	Step           session.Step     `json:"step"`
	Title          string           `json:"title"`
	Position       int              `json:"position"`
	TotalSteps     int              `json:"totalSteps"`
	Progress       int              `json:"progress"`
	Status         string           `json:"status"`
	Error          string           `json:"error,omitempty"`
	Submitting     bool             `json:"submitting"`
	CanGoBack      bool             `json:"canGoBack"`
	RegistrationID string           `json:"registrationId,omitempty"`
	Email          *EmailStatus     `json:"email,omitempty"`
	Confirmation   *Confirmation    `json:"confirmation,omitempty"`
	Session        *session.Session `json:"session,omitempty"`
}

// View snapshots the wizard and its persisted session.
func (w *Wizard) View(ctx context.Context) (View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, err := w.store.Load(ctx)
	if err != nil {
		return View{}, err
	}
	w.syncLocked(sess)
	v := View{
		KioskID:        w.kioskID,
		Step:           w.step,
		Title:          Title(w.step),
		Position:       Position(w.step),
		TotalSteps:     TotalSteps,
		Progress:       Progress(w.step),
		Status:         StatusIdle.String(),
		RegistrationID: sess.RegistrationID,
		Session:        sess,
	}
	if m, ok := w.machines[w.step]; ok {
		v.Status = m.state.Status.String()
		v.Error = m.state.Reason
		v.Submitting = m.state.Status == StatusSubmitting
		_, hasPrev := previousStep(w.step)
		v.CanGoBack = hasPrev && !v.Submitting
	}
	if w.step == session.StepCommunicationCredentials && w.email.email != "" {
		status := w.email.status()
		v.Email = &status
	}
	if sess.Completed {
		v.Confirmation = confirmationFor(sess.CompletionData)
	}
	return v, nil
}
