package wizard

import (
	"context"
	"io"
	"strings"

	"github.com/wolfman30/mediway-kiosk/internal/auth"
	"github.com/wolfman30/mediway-kiosk/internal/events"
	"github.com/wolfman30/mediway-kiosk/internal/registration/gateway"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/internal/registration/validate"
)

// DefaultDocumentType is sent when the kiosk does not name the document kind.
const DefaultDocumentType = "national_id"

// PersonalInfo is the step 1 form.
type PersonalInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DOB       string `json:"dob"`
	Gender    string `json:"gender"`
	Contact   string `json:"contact"`
	Address   string `json:"address"`
}

func (p PersonalInfo) fields() validate.Step1Fields {
	return validate.Step1Fields{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		DOB:       p.DOB,
		Gender:    p.Gender,
		Contact:   p.Contact,
		Address:   p.Address,
	}
}

// SubmitPersonalInfo validates step 1, opens a registration when the session
// has none yet, and saves the personal details.
func (w *Wizard) SubmitPersonalInfo(ctx context.Context, in PersonalInfo) (*session.Session, error) {
	ctx = context.WithoutCancel(ctx)
	a, err := w.begin(ctx, session.StepPersonalInfo, func(*session.Session) error {
		return validate.Step1(in.fields(), w.now()).Err()
	})
	if err != nil {
		return nil, err
	}

	registrationID := a.sess.RegistrationID
	if registrationID == "" {
		registrationID, err = w.api.StartRegistration(ctx)
		if err == nil {
			err = w.adoptRegistrationID(ctx, a, registrationID)
		}
		if err != nil {
			return w.finish(ctx, a, outcome{err: err, fallback: fallbackPersonalInfo})
		}
	}

	personal := session.Personal{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		DOB:       in.DOB,
		Gender:    strings.TrimSpace(in.Gender),
		Phone:     in.Contact,
		Address:   strings.TrimSpace(in.Address),
	}
	_, err = w.api.SavePersonalInfo(ctx, gateway.PersonalInfoRequest{
		RegistrationID: registrationID,
		FirstName:      personal.FirstName,
		LastName:       personal.LastName,
		DOB:            personal.DOB,
		Gender:         personal.Gender,
		Phone:          personal.Phone,
		Address:        personal.Address,
	})
	return w.finish(ctx, a, outcome{
		patch:    session.Patch{RegistrationID: registrationID, Personal: &personal},
		next:     session.StepDocumentUpload,
		err:      err,
		fallback: fallbackPersonalInfo,
	})
}

// Document is the step 2 upload. Size is the declared byte length of Content.
type Document struct {
	DocumentType string
	IDNumber     string
	FileName     string
	ContentType  string
	Size         int64
	Content      io.Reader
}

// SubmitDocument validates and uploads the identity document.
func (w *Wizard) SubmitDocument(ctx context.Context, in Document) (*session.Session, error) {
	ctx = context.WithoutCancel(ctx)
	a, err := w.begin(ctx, session.StepDocumentUpload, func(s *session.Session) error {
		if s.RegistrationID == "" {
			return ErrMissingRegistrationID
		}
		return validate.Document(validate.DocumentFields{
			Name:        in.FileName,
			ContentType: in.ContentType,
			Size:        in.Size,
		}, w.maxDocBytes).Err()
	})
	if err != nil {
		return nil, err
	}

	docType := strings.TrimSpace(in.DocumentType)
	if docType == "" {
		docType = DefaultDocumentType
	}
	contentType := validate.NormalizeContentType(in.ContentType)
	reg, err := w.api.UploadDocument(ctx, gateway.DocumentUpload{
		RegistrationID: a.sess.RegistrationID,
		DocumentType:   docType,
		IDNumber:       strings.TrimSpace(in.IDNumber),
		FileName:       in.FileName,
		ContentType:    contentType,
		Content:        in.Content,
	})
	doc := session.Document{Name: in.FileName, Type: contentType, Size: in.Size}
	if reg != nil && reg.Document != nil {
		doc.URL = reg.Document.URL
	}
	return w.finish(ctx, a, outcome{
		patch:    session.Patch{Document: &doc},
		next:     session.StepMedicalInfo,
		err:      err,
		fallback: fallbackDocument,
	})
}

// MedicalInfo is the step 3 form. Every field is optional.
type MedicalInfo struct {
	AgeRange       string   `json:"ageRange"`
	Gender         string   `json:"gender"`
	Conditions     []string `json:"conditions"`
	EmergencyName  string   `json:"emergencyName"`
	EmergencyPhone string   `json:"emergencyPhone"`
}

// SubmitMedicalInfo saves the optional medical details.
func (w *Wizard) SubmitMedicalInfo(ctx context.Context, in MedicalInfo) (*session.Session, error) {
	ctx = context.WithoutCancel(ctx)
	a, err := w.begin(ctx, session.StepMedicalInfo, requireRegistrationID)
	if err != nil {
		return nil, err
	}

	medical := session.Medical{
		AgeRange:       strings.TrimSpace(in.AgeRange),
		Gender:         strings.TrimSpace(in.Gender),
		Conditions:     normalizeConditions(in.Conditions),
		EmergencyName:  strings.TrimSpace(in.EmergencyName),
		EmergencyPhone: strings.TrimSpace(in.EmergencyPhone),
	}
	req := gateway.MedicalInfoRequest{
		RegistrationID: a.sess.RegistrationID,
		AgeRange:       medical.AgeRange,
		Gender:         medical.Gender,
		Conditions:     medical.Conditions,
	}
	if medical.EmergencyName != "" || medical.EmergencyPhone != "" {
		req.EmergencyContact = &gateway.EmergencyContact{Name: medical.EmergencyName, Phone: medical.EmergencyPhone}
	}
	_, err = w.api.SaveMedicalInfo(ctx, req)
	return w.finish(ctx, a, outcome{
		patch:    session.Patch{Medical: &medical},
		next:     session.StepCommunicationCredentials,
		err:      err,
		fallback: fallbackMedicalInfo,
	})
}

func requireRegistrationID(s *session.Session) error {
	if s.RegistrationID == "" {
		return ErrMissingRegistrationID
	}
	return nil
}

// normalizeConditions trims, drops blanks and removes duplicates, keeping
// first-seen order.
func normalizeConditions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CommunicationCredentials is the step 4 form.
type CommunicationCredentials struct {
	EmailNotify             bool   `json:"emailNotify"`
	SMS                     bool   `json:"sms"`
	AppointmentReminders    bool   `json:"appointmentReminders"`
	LabResultsNotifications bool   `json:"labResultsNotifications"`
	Email                   string `json:"email"`
	Password                string `json:"password"`
	ConfirmPassword         string `json:"confirmPassword"`
}

func (c CommunicationCredentials) fields() validate.CredentialFields {
	return validate.CredentialFields{
		Email:           normalizeEmail(c.Email),
		Password:        c.Password,
		ConfirmPassword: c.ConfirmPassword,
	}
}

// normalizeEmail is applied to every use of the account email: the on-blur
// check, the submit-time check and the saved credentials.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckEmail is the on-blur availability check. A malformed address is
// reported without calling the API. Only the latest check for the current
// generation is kept.
func (w *Wizard) CheckEmail(ctx context.Context, email string) (EmailStatus, error) {
	ctx = context.WithoutCancel(ctx)
	email = normalizeEmail(email)

	w.mu.Lock()
	if w.step != session.StepCommunicationCredentials {
		w.mu.Unlock()
		return EmailStatus{}, ErrWrongStep
	}
	if !validate.Email(email) {
		w.email = emailCheck{email: email, message: validate.MsgEmailInvalid}
		status := w.email.status()
		w.mu.Unlock()
		return status, nil
	}
	w.email = emailCheck{email: email, checking: true}
	gen := w.gen
	w.mu.Unlock()

	res, err := w.api.CheckEmail(ctx, email)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || w.email.email != email {
		return EmailStatus{Email: email}, ErrSuperseded
	}
	switch {
	case err != nil:
		w.email = emailCheck{email: email, message: Message(err, fallbackEmailCheck)}
		w.logger.Warn("email availability check failed", "error", err)
	case !res.Available:
		w.email = emailCheck{email: email, checked: true, message: MsgEmailTaken}
	default:
		w.email = emailCheck{email: email, checked: true, available: true}
	}
	return w.email.status(), nil
}

// emailBlockedLocked reports whether the last on-blur check for email found
// it taken.
func (w *Wizard) emailBlockedLocked(email string) bool {
	if w.email.email != normalizeEmail(email) {
		return false
	}
	return w.email.checked && !w.email.available
}

// CanSubmitCredentials reports whether step 4's submit control is enabled:
// local validation passes, no submit is in flight, and the on-blur check has
// not reported the email as taken.
func (w *Wizard) CanSubmitCredentials(in CommunicationCredentials) bool {
	if !validate.Credentials(in.fields()).Valid {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != session.StepCommunicationCredentials {
		return false
	}
	if w.machines[w.step].state.Status == StatusSubmitting {
		return false
	}
	return !w.emailBlockedLocked(in.Email)
}

// SubmitCredentials validates step 4, re-checks email availability, then
// saves communication preferences and credentials and completes the
// registration. The bearer token is stored and the wizard moves to the
// confirmation screen.
func (w *Wizard) SubmitCredentials(ctx context.Context, in CommunicationCredentials) (*session.Session, error) {
	ctx = context.WithoutCancel(ctx)
	fields := in.fields()
	a, err := w.begin(ctx, session.StepCommunicationCredentials, func(s *session.Session) error {
		if s.RegistrationID == "" {
			return ErrMissingRegistrationID
		}
		if err := validate.Credentials(fields).Err(); err != nil {
			return err
		}
		if w.emailBlockedLocked(fields.Email) {
			return ErrEmailUnavailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	registrationID := a.sess.RegistrationID

	avail, err := w.api.CheckEmail(ctx, fields.Email)
	if err != nil {
		return w.finish(ctx, a, outcome{err: err, fallback: fallbackEmailCheck})
	}
	if !avail.Available {
		w.noteEmailTaken(a.gen, fields.Email)
		return w.finish(ctx, a, outcome{err: ErrEmailUnavailable, fallback: fallbackCredentials})
	}

	comm := session.Communication{
		EmailNotify:             in.EmailNotify,
		SMS:                     in.SMS,
		AppointmentReminders:    in.AppointmentReminders,
		LabResultsNotifications: in.LabResultsNotifications,
	}
	var completion *gateway.Completion
	_, err = w.api.SaveCommunication(ctx, gateway.CommunicationRequest{
		RegistrationID:          registrationID,
		EmailNotifications:      comm.EmailNotify,
		SMSNotifications:        comm.SMS,
		AppointmentReminders:    comm.AppointmentReminders,
		LabResultsNotifications: comm.LabResultsNotifications,
	})
	if err == nil {
		_, err = w.api.SaveCredentials(ctx, gateway.CredentialsRequest{
			RegistrationID: registrationID,
			Email:          fields.Email,
			Password:       fields.Password,
		})
	}
	if err == nil {
		completion, err = w.api.CompleteRegistration(ctx, registrationID)
	}
	if err != nil {
		return w.finish(ctx, a, outcome{err: err, fallback: fallbackCredentials})
	}

	sess, err := w.finish(ctx, a, outcome{
		patch: session.Patch{
			Communication: &comm,
			Credentials:   &session.Credentials{Email: fields.Email},
			Completion: &session.CompletionData{
				User:    completion.User,
				Patient: completion.Patient,
				Role:    completionRole(completion),
			},
		},
		next:     session.StepConfirmation,
		token:    completion.Token,
		fallback: fallbackCredentials,
	})
	if err != nil {
		return nil, err
	}

	w.record(ctx, events.TypeRegistrationCompleted, registrationID, session.StepCommunicationCredentials, "")
	if w.observer != nil {
		w.observer.ObserveCompletion()
	}
	if comm.EmailNotify {
		w.sendWelcome(ctx, sess)
	}
	return sess, nil
}

// completionRole prefers the user record's role and falls back to the
// token's role claim.
func completionRole(c *gateway.Completion) string {
	if u, err := gateway.DecodeUser(c.User); err == nil {
		if role, err := auth.ParseRole(u.Role); err == nil {
			return role.String()
		}
	}
	if role, err := auth.PeekRole(c.Token); err == nil {
		return role.String()
	}
	return ""
}

func (w *Wizard) noteEmailTaken(gen uint64, email string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return
	}
	w.email = emailCheck{email: normalizeEmail(email), checked: true, message: MsgEmailTaken}
}

// sendWelcome is best effort; the registration is already complete.
func (w *Wizard) sendWelcome(ctx context.Context, sess *session.Session) {
	if w.notifier == nil || sess.Credentials == nil {
		return
	}
	msg := Welcome{Email: sess.Credentials.Email}
	if sess.Personal != nil {
		msg.FirstName = sess.Personal.FirstName
	}
	msg.PatientReference = confirmationFor(sess.CompletionData).PatientReference
	if err := w.notifier.SendWelcome(ctx, msg); err != nil {
		w.logger.Warn("welcome email failed", "registration_id", sess.RegistrationID, "error", err)
	}
}
