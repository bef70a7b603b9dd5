// Package session persists the registration wizard's session blob: the single
// JSON document a kiosk accumulates while a patient walks through the steps.
package session

import "encoding/json"

// Step identifies a wizard position. It is persisted so a kiosk can resume.
type Step string

const (
	StepPersonalInfo             Step = "personal_info"
	StepDocumentUpload           Step = "document_upload"
	StepMedicalInfo              Step = "medical_info"
	StepCommunicationCredentials Step = "communication_credentials"
	StepConfirmation             Step = "confirmation"
	StepFinish                   Step = "finish"
)

// Personal is the step 1 data. DOB and Gender are optional.
type Personal struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DOB       string `json:"dob,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

// Document describes the identity document accepted at step 2.
type Document struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Medical is the step 3 data. Every field is optional.
type Medical struct {
	AgeRange       string   `json:"ageRange,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Conditions     []string `json:"conditions"`
	EmergencyName  string   `json:"emergencyName,omitempty"`
	EmergencyPhone string   `json:"emergencyPhone,omitempty"`
}

// Communication holds the patient's notification preferences.
type Communication struct {
	EmailNotify             bool `json:"emailNotify"`
	SMS                     bool `json:"sms"`
	AppointmentReminders    bool `json:"appointmentReminders"`
	LabResultsNotifications bool `json:"labResultsNotifications"`
}

// Credentials keeps only the account email; passwords are never persisted.
type Credentials struct {
	Email string `json:"email"`
}

// CompletionData is what the registration API returned on completion.
type CompletionData struct {
	User    json.RawMessage `json:"user,omitempty"`
	Patient json.RawMessage `json:"patient,omitempty"`
	Role    string          `json:"role,omitempty"`
}

// Session is the persisted wizard blob.
type Session struct {
	RegistrationID string          `json:"registrationId,omitempty"`
	Step           Step            `json:"step,omitempty"`
	Personal       *Personal       `json:"personal,omitempty"`
	Document       *Document       `json:"document,omitempty"`
	Medical        *Medical        `json:"medical,omitempty"`
	Communication  *Communication  `json:"communication,omitempty"`
	Credentials    *Credentials    `json:"credentials,omitempty"`
	Completed      bool            `json:"completed,omitempty"`
	CompletionData *CompletionData `json:"completionData,omitempty"`
}

// Empty reports whether nothing has been recorded yet.
func (s *Session) Empty() bool {
	return s == nil || (s.RegistrationID == "" && s.Step == "" && s.Personal == nil && !s.Completed)
}

// Patch is a partial session. Nil fields are left untouched by Merge.
type Patch struct {
	RegistrationID string
	Step           Step
	Personal       *Personal
	Document       *Document
	Medical        *Medical
	Communication  *Communication
	Credentials    *Credentials
	Completion     *CompletionData
}

// Apply merges p into s. A registration ID already present is never
// replaced; completion flips Completed on.
func (p Patch) Apply(s *Session) {
	if p.RegistrationID != "" && s.RegistrationID == "" {
		s.RegistrationID = p.RegistrationID
	}
	if p.Step != "" {
		s.Step = p.Step
	}
	if p.Personal != nil {
		v := *p.Personal
		s.Personal = &v
	}
	if p.Document != nil {
		v := *p.Document
		s.Document = &v
	}
	if p.Medical != nil {
		v := *p.Medical
		v.Conditions = append([]string{}, p.Medical.Conditions...)
		s.Medical = &v
	}
	if p.Communication != nil {
		v := *p.Communication
		s.Communication = &v
	}
	if p.Credentials != nil {
		v := *p.Credentials
		s.Credentials = &v
	}
	if p.Completion != nil {
		v := *p.Completion
		s.CompletionData = &v
		s.Completed = true
	}
}
