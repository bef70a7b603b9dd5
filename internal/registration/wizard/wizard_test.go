package wizard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/internal/registration/validate"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		event  event
		want   State
		wantOK bool
	}{
		{"idle submit", State{}, event{kind: evSubmit}, State{Status: StatusSubmitting}, true},
		{"failed resubmit clears reason", State{Status: StatusFailed, Reason: "x"}, event{kind: evSubmit}, State{Status: StatusSubmitting}, true},
		{"submitting submit refused", State{Status: StatusSubmitting}, event{kind: evSubmit}, State{Status: StatusSubmitting}, false},
		{"submitting succeed", State{Status: StatusSubmitting}, event{kind: evSucceed}, State{Status: StatusSucceeded}, true},
		{"submitting fail", State{Status: StatusSubmitting}, event{kind: evFail, reason: "boom"}, State{Status: StatusFailed, Reason: "boom"}, true},
		{"idle succeed refused", State{}, event{kind: evSucceed}, State{}, false},
		{"idle fail refused", State{}, event{kind: evFail, reason: "boom"}, State{}, false},
		{"idle reject", State{}, event{kind: evReject, reason: "bad"}, State{Status: StatusFailed, Reason: "bad"}, true},
		{"submitting reject refused", State{Status: StatusSubmitting}, event{kind: evReject, reason: "bad"}, State{Status: StatusSubmitting}, false},
		{"reset from submitting", State{Status: StatusSubmitting}, event{kind: evReset}, State{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reduce(tt.from, tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	api := newFakeAPI()
	backend := session.NewMemoryBackend()

	_, err := New(Config{Backend: backend, API: api})
	assert.Error(t, err)
	_, err = New(Config{KioskID: "k", API: api})
	assert.Error(t, err)
	_, err = New(Config{KioskID: "k", Backend: backend})
	assert.Error(t, err)

	w, err := New(Config{KioskID: " k ", Backend: backend, API: api})
	require.NoError(t, err)
	assert.Equal(t, "k", w.KioskID())
	assert.Equal(t, session.StepPersonalInfo, w.Current())
}

func TestHappyPathRegistersAlice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.wizard

	assert.Equal(t, 20, w.Progress())

	sess, err := w.SubmitPersonalInfo(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "reg-001", sess.RegistrationID)
	assert.Equal(t, "0712345678", sess.Personal.Phone)
	assert.Equal(t, session.StepDocumentUpload, w.Current())
	assert.Equal(t, 40, w.Progress())

	sess, err = w.SubmitDocument(ctx, aliceDocument("%PDF-1.7 alice"))
	require.NoError(t, err)
	require.NotNil(t, sess.Document)
	assert.Equal(t, "https://files.example.test/reg-001/id.pdf", sess.Document.URL)
	assert.Equal(t, "application/pdf", sess.Document.Type)
	assert.Equal(t, []byte("%PDF-1.7 alice"), h.api.uploadedBytes)
	assert.Equal(t, "passport", h.api.uploaded.DocumentType)
	assert.Equal(t, session.StepMedicalInfo, w.Current())

	sess, err = w.SubmitMedicalInfo(ctx, MedicalInfo{
		AgeRange:      "30-39",
		Conditions:    []string{" Asthma ", "asthma", "", "Diabetes"},
		EmergencyName: "Bob Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Asthma", "Diabetes"}, sess.Medical.Conditions)
	require.NotNil(t, h.api.medical.EmergencyContact)
	assert.Equal(t, "Bob Smith", h.api.medical.EmergencyContact.Name)
	assert.Equal(t, session.StepCommunicationCredentials, w.Current())
	assert.Equal(t, 80, w.Progress())

	status, err := w.CheckEmail(ctx, "Alice@Example.com ")
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.True(t, w.CanSubmitCredentials(aliceCredentials()))

	sess, err = w.SubmitCredentials(ctx, aliceCredentials())
	require.NoError(t, err)
	assert.True(t, sess.Completed)
	assert.Equal(t, "alice@example.com", sess.Credentials.Email)
	assert.Equal(t, "Secur3!pass", h.api.credentials.Password)
	assert.Equal(t, session.StepConfirmation, w.Current())
	assert.Equal(t, 100, w.Progress())
	assert.Equal(t, 2, h.api.count("check_email"))
	assert.Equal(t, 1, h.api.count("start"))

	raw, err := h.backend.Load(ctx, session.RegistrationKey("lobby-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Secur3!pass")

	token, err := session.NewTokenStore(h.backend, session.TokenKey("lobby-1")).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	view, err := w.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, view.Confirmation)
	assert.Equal(t, "MW-0001", view.Confirmation.PatientReference)
	assert.Equal(t, "mediway:patient:MW-0001", view.Confirmation.QRPayload)
	assert.Equal(t, "patient", view.Confirmation.Role)
	assert.Equal(t, "/patient/dashboard", view.Confirmation.HomeRoute)
	assert.False(t, view.CanGoBack)

	account, err := w.Account(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(account), "alice@example.com")
	assert.Equal(t, "tok-123", h.api.tokenSeen)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, Welcome{Email: "alice@example.com", FirstName: "Alice", PatientReference: "MW-0001"}, h.notifier.sent[0])
	assert.Equal(t, 1, h.observer.completions)

	require.NoError(t, w.Continue(ctx))
	assert.Equal(t, session.StepFinish, w.Current())
	require.NoError(t, w.GoHome(ctx))

	assert.Equal(t, session.StepPersonalInfo, w.Current())
	assert.True(t, h.load(t).Empty())
	token, err = session.NewTokenStore(h.backend, session.TokenKey("lobby-1")).Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	assert.Equal(t, []string{
		events.TypeStepSubmitted,
		events.TypeStepSubmitted,
		events.TypeStepSubmitted,
		events.TypeStepSubmitted,
		events.TypeRegistrationCompleted,
		events.TypeSessionCleared,
	}, h.recorder.types())
}

func TestPersonalInfoValidationMakesNoCall(t *testing.T) {
	h := newHarness(t)
	in := alice()
	in.Contact = "+44712345678"

	_, err := h.wizard.SubmitPersonalInfo(context.Background(), in)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, validate.MsgContactInvalid, stepErr.Message)
	var vErr *validate.Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, validate.FieldContact, vErr.Field)

	assert.Equal(t, 0, h.api.count("start"))
	assert.Equal(t, session.StepPersonalInfo, h.wizard.Current())
	state := h.wizard.State(session.StepPersonalInfo)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, validate.MsgContactInvalid, state.Reason)
	assert.Equal(t, 1, h.observer.steps["personal_info:rejected"])
}

func TestStartRegistrationReusedAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.setErr("personal_info", &gateway.APIError{StatusCode: 400, Message: "Address is required by the clinic"})

	_, err := h.wizard.SubmitPersonalInfo(ctx, alice())
	require.Error(t, err)
	assert.Equal(t, "Address is required by the clinic", Message(err, fallbackPersonalInfo))
	assert.Equal(t, "reg-001", h.load(t).RegistrationID)

	view, err := h.wizard.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "failed", view.Status)
	assert.Equal(t, "Address is required by the clinic", view.Error)

	h.api.setErr("personal_info", nil)
	_, err = h.wizard.SubmitPersonalInfo(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.count("start"))
	assert.Equal(t, 2, h.api.count("personal_info"))
}

func TestTransportFailureUsesStepFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(t, session.StepDocumentUpload)
	h.api.setErr("document", errTransport)

	_, err := h.wizard.SubmitDocument(ctx, aliceDocument("%PDF"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, fallbackDocument, Message(err, ""))
	assert.Equal(t, session.StepDocumentUpload, h.wizard.Current())
	assert.Nil(t, h.load(t).Document)
}

func TestDocumentValidation(t *testing.T) {
	h := newHarness(t)
	h.advance(t, session.StepDocumentUpload)

	doc := aliceDocument("x")
	doc.Size = validate.MaxDocumentBytes + 1
	_, err := h.wizard.SubmitDocument(context.Background(), doc)
	assert.Equal(t, validate.MsgFileTooLarge, Message(err, ""))

	doc = aliceDocument("GIF89a")
	doc.FileName = "id.gif"
	doc.ContentType = "image/gif"
	_, err = h.wizard.SubmitDocument(context.Background(), doc)
	assert.Equal(t, validate.MsgFileType, Message(err, ""))

	assert.Equal(t, 0, h.api.count("document"))
}

func TestMissingRegistrationIDShortCircuits(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		step   session.Step
		op     string
		submit func(w *Wizard) error
	}{
		{session.StepDocumentUpload, "document", func(w *Wizard) error {
			_, err := w.SubmitDocument(ctx, aliceDocument("%PDF"))
			return err
		}},
		{session.StepMedicalInfo, "medical_info", func(w *Wizard) error {
			_, err := w.SubmitMedicalInfo(ctx, MedicalInfo{})
			return err
		}},
		{session.StepCommunicationCredentials, "communication", func(w *Wizard) error {
			_, err := w.SubmitCredentials(ctx, aliceCredentials())
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(string(tc.step), func(t *testing.T) {
			h := newHarness(t)
			h.advance(t, tc.step)
			// Another writer wiped the blob underneath the wizard.
			require.NoError(t, h.backend.Clear(ctx, session.RegistrationKey("lobby-1")))

			err := tc.submit(h.wizard)
			require.ErrorIs(t, err, ErrMissingRegistrationID)
			assert.Equal(t, "Missing registration ID. Please restart registration from step 1.", Message(err, "fallback"))
			assert.Equal(t, 0, h.api.count(tc.op))
			assert.Equal(t, 0, h.api.count("check_email"))
			assert.Equal(t, tc.step, h.wizard.Current())
		})
	}
}

func TestDoubleSubmitIssuesOneRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.started = make(chan struct{}, 1)
	h.api.startGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.wizard.SubmitPersonalInfo(ctx, alice())
		done <- err
	}()
	<-h.api.started

	_, err := h.wizard.SubmitPersonalInfo(ctx, alice())
	require.ErrorIs(t, err, ErrSubmitInFlight)
	assert.Equal(t, StatusSubmitting, h.wizard.State(session.StepPersonalInfo).Status)

	view, err := h.wizard.View(ctx)
	require.NoError(t, err)
	assert.True(t, view.Submitting)

	close(h.api.startGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.api.count("start"))
	assert.Equal(t, 1, h.api.count("personal_info"))
	assert.Equal(t, session.StepDocumentUpload, h.wizard.Current())
}

func TestShortPasswordKeepsSubmitDisabled(t *testing.T) {
	h := newHarness(t)
	h.advance(t, session.StepCommunicationCredentials)

	in := aliceCredentials()
	in.Password = "short"
	in.ConfirmPassword = "short"
	assert.False(t, h.wizard.CanSubmitCredentials(in))

	_, err := h.wizard.SubmitCredentials(context.Background(), in)
	assert.Equal(t, validate.MsgPasswordLength, Message(err, ""))
	assert.Equal(t, 0, h.api.count("check_email"))
	assert.Equal(t, 0, h.api.count("communication"))
}

func TestBlurUnavailableBlocksProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(t, session.StepCommunicationCredentials)
	h.api.availability = []bool{false}

	status, err := h.wizard.CheckEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, status.Available)
	assert.Equal(t, "Email is already registered", status.Message)
	assert.False(t, h.wizard.CanSubmitCredentials(aliceCredentials()))

	_, err = h.wizard.SubmitCredentials(ctx, aliceCredentials())
	require.ErrorIs(t, err, ErrEmailUnavailable)
	assert.Equal(t, "Email is already registered", Message(err, ""))
	assert.Equal(t, 1, h.api.count("check_email"))
	assert.Equal(t, 0, h.api.count("communication"))

	view, err := h.wizard.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, view.Email)
	assert.Equal(t, "Email is already registered", view.Email.Message)

	// A different address clears the block.
	other := aliceCredentials()
	other.Email = "alice.smith@example.com"
	status, err = h.wizard.CheckEmail(ctx, other.Email)
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.True(t, h.wizard.CanSubmitCredentials(other))
}

func TestSubmitRechecksEmailAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(t, session.StepCommunicationCredentials)
	h.api.availability = []bool{true, false}

	_, err := h.wizard.CheckEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, h.wizard.CanSubmitCredentials(aliceCredentials()))

	_, err = h.wizard.SubmitCredentials(ctx, aliceCredentials())
	require.ErrorIs(t, err, ErrEmailUnavailable)
	assert.Equal(t, 2, h.api.count("check_email"))
	assert.Equal(t, 0, h.api.count("communication"))
	assert.False(t, h.wizard.CanSubmitCredentials(aliceCredentials()))
	assert.False(t, h.load(t).Completed)
}

func TestCheckEmailMalformedMakesNoCall(t *testing.T) {
	h := newHarness(t)
	h.advance(t, session.StepCommunicationCredentials)

	status, err := h.wizard.CheckEmail(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.Equal(t, validate.MsgEmailInvalid, status.Message)
	assert.Equal(t, 0, h.api.count("check_email"))
}

func TestCheckEmailOnlyOnCredentialsStep(t *testing.T) {
	h := newHarness(t)
	_, err := h.wizard.CheckEmail(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestCompletionFailureStaysOnStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(t, session.StepCommunicationCredentials)
	h.api.setErr("complete", &gateway.APIError{StatusCode: 500})

	_, err := h.wizard.SubmitCredentials(ctx, aliceCredentials())
	require.Error(t, err)
	assert.Equal(t, fallbackCredentials, Message(err, ""))
	assert.Equal(t, session.StepCommunicationCredentials, h.wizard.Current())
	assert.False(t, h.load(t).Completed)
	assert.Empty(t, h.notifier.sent)

	token, err := session.NewTokenStore(h.backend, session.TokenKey("lobby-1")).Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestWelcomeEmailFailureDoesNotFailCompletion(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("sendgrid unavailable")
	h.advance(t, session.StepConfirmation)
	assert.Len(t, h.notifier.sent, 1)
	assert.True(t, h.load(t).Completed)
}

func TestWelcomeEmailSkippedWithoutOptIn(t *testing.T) {
	h := newHarness(t)
	h.advance(t, session.StepCommunicationCredentials)
	in := aliceCredentials()
	in.EmailNotify = false
	_, err := h.wizard.SubmitCredentials(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.sent)
}

func TestBackNavigation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.wizard.Back(ctx), ErrNoPreviousStep)

	h.advance(t, session.StepMedicalInfo)
	require.NoError(t, h.wizard.Back(ctx))
	assert.Equal(t, session.StepDocumentUpload, h.wizard.Current())
	assert.Equal(t, session.StepDocumentUpload, h.load(t).Step)
	require.NoError(t, h.wizard.Back(ctx))
	assert.Equal(t, session.StepPersonalInfo, h.wizard.Current())

	// Resubmitting step 1 keeps the registration already issued.
	_, err := h.wizard.SubmitPersonalInfo(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.count("start"))
	assert.Equal(t, session.StepDocumentUpload, h.wizard.Current())
}

func TestBackRefusedAfterCompletion(t *testing.T) {
	h := newHarness(t)
	h.advance(t, session.StepConfirmation)
	assert.ErrorIs(t, h.wizard.Back(context.Background()), ErrNoPreviousStep)
	assert.ErrorIs(t, h.wizard.GoHome(context.Background()), ErrWrongStep)
}

func TestWrongStepSubmitRefused(t *testing.T) {
	h := newHarness(t)
	_, err := h.wizard.SubmitMedicalInfo(context.Background(), MedicalInfo{})
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.ErrorIs(t, h.wizard.Continue(context.Background()), ErrWrongStep)
}

func TestResumeFromPersistedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(t, session.StepMedicalInfo)

	restarted := h.newWizard(t)
	require.NoError(t, restarted.Resume(ctx))
	assert.Equal(t, session.StepMedicalInfo, restarted.Current())

	view, err := restarted.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reg-001", view.RegistrationID)
	assert.Equal(t, 60, view.Progress)
	assert.Equal(t, "Medical Information", view.Title)
	assert.True(t, view.CanGoBack)
}

func TestResumeStep(t *testing.T) {
	personal := &session.Personal{FirstName: "Alice"}
	tests := []struct {
		name string
		sess session.Session
		want session.Step
	}{
		{"empty", session.Session{}, session.StepPersonalInfo},
		{"id without personal", session.Session{RegistrationID: "r"}, session.StepPersonalInfo},
		{"derived document", session.Session{RegistrationID: "r", Personal: personal}, session.StepDocumentUpload},
		{"derived medical", session.Session{RegistrationID: "r", Personal: personal, Document: &session.Document{}}, session.StepMedicalInfo},
		{"stored step", session.Session{RegistrationID: "r", Personal: personal, Step: session.StepCommunicationCredentials}, session.StepCommunicationCredentials},
		{"stored confirmation without completion", session.Session{RegistrationID: "r", Personal: personal, Document: &session.Document{}, Medical: &session.Medical{}, Step: session.StepConfirmation}, session.StepCommunicationCredentials},
		{"completed", session.Session{RegistrationID: "r", Completed: true}, session.StepConfirmation},
		{"finished", session.Session{RegistrationID: "r", Completed: true, Step: session.StepFinish}, session.StepFinish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := tt.sess
			assert.Equal(t, tt.want, resumeStep(&sess))
		})
	}
}

func TestResetDropsInFlightResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.started = make(chan struct{}, 1)
	h.api.startGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.wizard.SubmitPersonalInfo(ctx, alice())
		done <- err
	}()
	<-h.api.started

	require.NoError(t, h.wizard.Reset(ctx, "stuck kiosk"))
	close(h.api.startGate)
	require.ErrorIs(t, <-done, ErrSuperseded)

	assert.True(t, h.load(t).Empty())
	assert.Equal(t, session.StepPersonalInfo, h.wizard.Current())
	assert.Equal(t, StatusIdle, h.wizard.State(session.StepPersonalInfo).Status)
	assert.Contains(t, h.recorder.types(), events.TypeKioskReset)
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("postgres down")
	_, err := h.wizard.SubmitPersonalInfo(context.Background(), alice())
	require.NoError(t, err)
}

func TestAccountWithoutTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	_, err := h.wizard.Account(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnauthenticated)
	assert.Equal(t, 0, h.api.count("me"))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil, "fallback"))
	assert.Equal(t, "fallback", Message(errTransport, "fallback"))
	assert.Equal(t, "Server says no", Message(&gateway.APIError{StatusCode: 400, Message: "Server says no"}, "fallback"))
	assert.Equal(t, "fallback", Message(&gateway.APIError{StatusCode: 502}, "fallback"))
	assert.Equal(t, validate.MsgPasswordMismatch, Message(&validate.Error{Message: validate.MsgPasswordMismatch}, "fallback"))
	assert.Equal(t, "shown", Message(&StepError{Message: "shown", Err: errTransport}, "fallback"))
}

func TestProgressAndTitles(t *testing.T) {
	assert.Equal(t, 20, Progress(session.StepPersonalInfo))
	assert.Equal(t, 40, Progress(session.StepDocumentUpload))
	assert.Equal(t, 60, Progress(session.StepMedicalInfo))
	assert.Equal(t, 80, Progress(session.StepCommunicationCredentials))
	assert.Equal(t, 100, Progress(session.StepConfirmation))
	assert.Equal(t, 100, Progress(session.StepFinish))
	assert.Equal(t, "Personal Information", Title(session.StepPersonalInfo))
}
