package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Registration is the server's view of an in-progress registration. Only the
// fields the kiosk reads are decoded.
type Registration struct {
	RegistrationID string                `json:"registrationId,omitempty"`
	Status         string                `json:"status,omitempty"`
	CurrentStep    int                   `json:"currentStep,omitempty"`
	Document       *RegistrationDocument `json:"document,omitempty"`
}

type RegistrationDocument struct {
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

type PersonalInfoRequest struct {
	RegistrationID string `json:"registrationId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DOB            string `json:"dob,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
}

func (r PersonalInfoRequest) validate() error {
	if strings.TrimSpace(r.RegistrationID) == "" {
		return errors.New("gateway: registration id required")
	}
	return nil
}

// DocumentUpload is sent as multipart/form-data.
type DocumentUpload struct {
	RegistrationID string
	DocumentType   string
	IDNumber       string
	FileName       string
	ContentType    string
	Content        io.Reader
}

func (d DocumentUpload) validate() error {
	if strings.TrimSpace(d.RegistrationID) == "" {
		return errors.New("gateway: registration id required")
	}
	if d.Content == nil {
		return errors.New("gateway: document content required")
	}
	if strings.TrimSpace(d.FileName) == "" {
		return errors.New("gateway: document file name required")
	}
	return nil
}

type EmergencyContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type MedicalInfoRequest struct {
	RegistrationID   string            `json:"registrationId"`
	AgeRange         string            `json:"ageRange,omitempty"`
	Gender           string            `json:"gender,omitempty"`
	Conditions       []string          `json:"conditions,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
}

type CommunicationRequest struct {
	RegistrationID          string `json:"registrationId"`
	EmailNotifications      bool   `json:"emailNotifications"`
	SMSNotifications        bool   `json:"smsNotifications"`
	AppointmentReminders    bool   `json:"appointmentReminders"`
	LabResultsNotifications bool   `json:"labResultsNotifications"`
}

type CredentialsRequest struct {
	RegistrationID string `json:"registrationId"`
	Email          string `json:"email"`
	Password       string `json:"password"`
}

// EmailAvailability is the check-email result.
type EmailAvailability struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// Completion is returned once the server has minted the user and patient.
type Completion struct {
	Token   string          `json:"token"`
	User    json.RawMessage `json:"user,omitempty"`
	Patient json.RawMessage `json:"patient,omitempty"`
}

// User is the subset of the user record the kiosk routes on.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"firstName,omitempty"`
}

// Patient is the subset of the patient record shown on the confirmation
// screen.
type Patient struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

// Reference returns the identifier printed on the confirmation QR code.
func (p Patient) Reference() string {
	if p.PatientID != "" {
		return p.PatientID
	}
	return p.ID
}

// DecodeUser extracts the routed user fields from a raw user record.
func DecodeUser(raw json.RawMessage) (User, error) {
	var u User
	if len(raw) == 0 {
		return u, errors.New("gateway: empty user record")
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, err
	}
	if u.ID == "" {
		var alt struct {
			ID string `json:"_id"`
		}
		if json.Unmarshal(raw, &alt) == nil {
			u.ID = alt.ID
		}
	}
	return u, nil
}

// DecodePatient extracts the patient reference from a raw patient record.
func DecodePatient(raw json.RawMessage) (Patient, error) {
	var p Patient
	if len(raw) == 0 {
		return p, errors.New("gateway: empty patient record")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	if p.ID == "" {
		var alt struct {
			ID string `json:"_id"`
		}
		if json.Unmarshal(raw, &alt) == nil {
			p.ID = alt.ID
		}
	}
	return p, nil
}
