package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// fakeAPI is an in-memory registration API that records every call.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	startID string
	// started receives once per StartRegistration call; startGate, when set,
	// holds the call until closed.
	started   chan struct{}
	startGate chan struct{}

	errs         map[string]error
	availability []bool
	completion   *gateway.Completion
	documentURL  string

	uploaded      gateway.DocumentUpload
	uploadedBytes []byte
	medical       gateway.MedicalInfoRequest
	credentials   gateway.CredentialsRequest
	checkedEmails []string
	tokenSeen     string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		startID:     "reg-001",
		errs:        map[string]error{},
		documentURL: "https://files.example.test/reg-001/id.pdf",
		completion: &gateway.Completion{
			Token:   "tok-123",
			User:    json.RawMessage(`{"_id":"u1","email":"alice@example.com","role":"patient","firstName":"Alice"}`),
			Patient: json.RawMessage(`{"_id":"p1","patientId":"MW-0001"}`),
		},
	}
}

func (f *fakeAPI) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeAPI) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeAPI) StartRegistration(context.Context) (string, error) {
	err := f.record("start")
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.startGate != nil {
		<-f.startGate
	}
	if err != nil {
		return "", err
	}
	return f.startID, nil
}

func (f *fakeAPI) SavePersonalInfo(_ context.Context, req gateway.PersonalInfoRequest) (*gateway.Registration, error) {
	if err := f.record("personal_info"); err != nil {
		return nil, err
	}
	return &gateway.Registration{RegistrationID: req.RegistrationID, CurrentStep: 2}, nil
}

func (f *fakeAPI) UploadDocument(_ context.Context, doc gateway.DocumentUpload) (*gateway.Registration, error) {
	if err := f.record("document"); err != nil {
		return nil, err
	}
	data, _ := io.ReadAll(doc.Content)
	f.mu.Lock()
	f.uploaded = doc
	f.uploadedBytes = data
	f.mu.Unlock()
	return &gateway.Registration{
		RegistrationID: doc.RegistrationID,
		Document:       &gateway.RegistrationDocument{URL: f.documentURL, Type: doc.DocumentType, Name: doc.FileName},
	}, nil
}

func (f *fakeAPI) SaveMedicalInfo(_ context.Context, req gateway.MedicalInfoRequest) (*gateway.Registration, error) {
	if err := f.record("medical_info"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.medical = req
	f.mu.Unlock()
	return &gateway.Registration{RegistrationID: req.RegistrationID}, nil
}

func (f *fakeAPI) SaveCommunication(_ context.Context, req gateway.CommunicationRequest) (*gateway.Registration, error) {
	if err := f.record("communication"); err != nil {
		return nil, err
	}
	return &gateway.Registration{RegistrationID: req.RegistrationID}, nil
}

func (f *fakeAPI) SaveCredentials(_ context.Context, req gateway.CredentialsRequest) (*gateway.Registration, error) {
	if err := f.record("credentials"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.credentials = req
	f.mu.Unlock()
	return &gateway.Registration{RegistrationID: req.RegistrationID}, nil
}

func (f *fakeAPI) CheckEmail(_ context.Context, email string) (*gateway.EmailAvailability, error) {
	if err := f.record("check_email"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedEmails = append(f.checkedEmails, email)
	available := true
	if len(f.availability) > 0 {
		available = f.availability[0]
		f.availability = f.availability[1:]
	}
	return &gateway.EmailAvailability{Available: available}, nil
}

func (f *fakeAPI) CompleteRegistration(_ context.Context, registrationID string) (*gateway.Completion, error) {
	if err := f.record("complete"); err != nil {
		return nil, err
	}
	return f.completion, nil
}

func (f *fakeAPI) CurrentUser(_ context.Context, token string) (json.RawMessage, error) {
	if err := f.record("me"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.tokenSeen = token
	f.mu.Unlock()
	return f.completion.User, nil
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []events.WizardEvent
	err    error
}

func (r *recordingRecorder) Record(_ context.Context, e events.WizardEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Welcome
	err  error
}

func (n *recordingNotifier) SendWelcome(_ context.Context, msg Welcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type recordingObserver struct {
	mu          sync.Mutex
	steps       map[string]int
	completions int
}

func (o *recordingObserver) ObserveStep(step, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.steps == nil {
		o.steps = map[string]int{}
	}
	o.steps[step+":"+outcome]++
}

func (o *recordingObserver) ObserveCompletion() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions++
}

// flakyBackend fails Save for the keys listed in failSave.
type flakyBackend struct {
	session.Backend
	mu       sync.Mutex
	failSave map[string]error
}

func (b *flakyBackend) Save(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	err := b.failSave[key]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Backend.Save(ctx, key, data)
}

func (b *flakyBackend) failOn(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave == nil {
		b.failSave = map[string]error{}
	}
	b.failSave[key] = err
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	wizard   *Wizard
	api      *fakeAPI
	backend  *session.MemoryBackend
	recorder *recordingRecorder
	notifier *recordingNotifier
	observer *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:      newFakeAPI(),
		backend:  session.NewMemoryBackend(),
		recorder: &recordingRecorder{},
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}
	h.wizard = h.newWizard(t)
	return h
}

func (h *harness) newWizard(t *testing.T) *Wizard {
	t.Helper()
	w, err := New(Config{
		KioskID:  "lobby-1",
		Backend:  h.backend,
		API:      h.api,
		Recorder: h.recorder,
		Notifier: h.notifier,
		Observer: h.observer,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return w
}

func (h *harness) load(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.NewStore(h.backend, session.RegistrationKey("lobby-1")).Load(context.Background())
	require.NoError(t, err)
	return sess
}

var errTransport = errors.New("dial tcp 10.0.0.1:443: connection refused")

func alice() PersonalInfo {
	return PersonalInfo{
		FirstName: "Alice",
		LastName:  "Smith",
		DOB:       "1990-05-04",
		Gender:    "female",
		Contact:   "0712345678",
		Address:   "1 Main St",
	}
}

func aliceDocument(content string) Document {
	return Document{
		DocumentType: "passport",
		IDNumber:     "P1234567",
		FileName:     "id.pdf",
		ContentType:  "application/pdf",
		Size:         int64(len(content)),
		Content:      strings.NewReader(content),
	}
}

func aliceCredentials() CommunicationCredentials {
	return CommunicationCredentials{
		EmailNotify:          true,
		AppointmentReminders: true,
		Email:                "alice@example.com",
		Password:             "Secur3!pass",
		ConfirmPassword:      "Secur3!pass",
	}
}

// advance walks the wizard forward until it reaches step.
func (h *harness) advance(t *testing.T, step session.Step) {
	t.Helper()
	ctx := context.Background()
	for h.wizard.Current() != step {
		var err error
		switch h.wizard.Current() {
		case session.StepPersonalInfo:
			_, err = h.wizard.SubmitPersonalInfo(ctx, alice())
		case session.StepDocumentUpload:
			_, err = h.wizard.SubmitDocument(ctx, aliceDocument("%PDF-1.7 test"))
		case session.StepMedicalInfo:
			_, err = h.wizard.SubmitMedicalInfo(ctx, MedicalInfo{})
		case session.StepCommunicationCredentials:
			_, err = h.wizard.SubmitCredentials(ctx, aliceCredentials())
		case session.StepConfirmation:
			err = h.wizard.Continue(ctx)
		default:
			t.Fatalf("cannot advance past %s", h.wizard.Current())
		}
		require.NoError(t, err)
	}
}
