// Package validate holds the pure field checks a wizard step runs before it is
// allowed to call the registration API. Nothing here touches the network or
// storage.
package validate

import (
	"mime"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Field names used as keys in Result.Errors. They match the form field names
// the kiosk screens post.
const (
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldContact         = "contact"
	FieldDOB             = "dob"
	FieldFile            = "file"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
)

const (
	MsgFirstNameRequired = "First name is required"
	MsgLastNameRequired  = "Last name is required"
	MsgContactInvalid    = "Contact number must be a valid mobile number (07XXXXXXXX)"
	MsgDOBFormat         = "Date of birth must be a valid date in YYYY-MM-DD format"
	MsgDOBFuture         = "Date of birth cannot be in the future"
	MsgFileRequired      = "Please select a file to upload"
	MsgFileTooLarge      = "File size must be less than 5MB"
	MsgFileType          = "Only PDF, PNG and JPEG files are allowed"
	MsgEmailInvalid      = "Please enter a valid email address"
	MsgPasswordLength    = "Password must be at least 8 characters"
	MsgPasswordDigit     = "Password must contain at least one number"
	MsgPasswordSpecial   = "Password must contain at least one special character"
	MsgPasswordMismatch  = "Passwords do not match"
)

// MaxDocumentBytes is the largest identity document the kiosk accepts.
const MaxDocumentBytes int64 = 5 << 20

var (
	contactPattern = regexp.MustCompile(`^07[0-9]{8}$`)
	dobPattern     = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

var allowedDocumentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
}

// Result is the outcome of validating one step's field set.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`

	order []string
}

func (r *Result) add(field, msg string) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	if _, exists := r.Errors[field]; exists {
		return
	}
	r.Errors[field] = msg
	r.order = append(r.order, field)
	r.Valid = false
}

// First returns the first failing field and its message, in check order.
func (r Result) First() (field, message string) {
	if len(r.order) == 0 {
		return "", ""
	}
	field = r.order[0]
	return field, r.Errors[field]
}

// Err returns nil for a valid result, otherwise an *Error carrying the first
// failing field.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	field, msg := r.First()
	return &Error{Field: field, Message: msg, Fields: r.Errors}
}

// Error is a local validation failure. Message is safe to show on screen.
type Error struct {
	Field   string
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string { return e.Message }

func newResult() Result { return Result{Valid: true} }

// Step1Fields is the personal information screen's field set.
type Step1Fields struct {
	FirstName string
	LastName  string
	DOB       string
	Gender    string
	Contact   string
	Address   string
}

// Step1 validates the personal information step. now anchors the
// date-of-birth future check.
func Step1(f Step1Fields, now time.Time) Result {
	res := newResult()
	if strings.TrimSpace(f.FirstName) == "" {
		res.add(FieldFirstName, MsgFirstNameRequired)
	}
	if strings.TrimSpace(f.LastName) == "" {
		res.add(FieldLastName, MsgLastNameRequired)
	}
	if !contactPattern.MatchString(f.Contact) {
		res.add(FieldContact, MsgContactInvalid)
	}
	if f.DOB != "" {
		if msg := checkDOB(f.DOB, now); msg != "" {
			res.add(FieldDOB, msg)
		}
	}
	return res
}

func checkDOB(dob string, now time.Time) string {
	if !dobPattern.MatchString(dob) {
		return MsgDOBFormat
	}
	loc := now.Location()
	parsed, err := time.ParseInLocation("2006-01-02", dob, loc)
	if err != nil {
		return MsgDOBFormat
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if parsed.After(today) {
		return MsgDOBFuture
	}
	return ""
}

// DocumentFields describes an uploaded identity document.
type DocumentFields struct {
	Name        string
	ContentType string
	Size        int64
}

// Document validates the upload step. maxBytes <= 0 falls back to
// MaxDocumentBytes.
func Document(f DocumentFields, maxBytes int64) Result {
	if maxBytes <= 0 {
		maxBytes = MaxDocumentBytes
	}
	res := newResult()
	if strings.TrimSpace(f.Name) == "" || f.Size <= 0 {
		res.add(FieldFile, MsgFileRequired)
		return res
	}
	if f.Size > maxBytes {
		res.add(FieldFile, MsgFileTooLarge)
		return res
	}
	if _, ok := allowedDocumentTypes[NormalizeContentType(f.ContentType)]; !ok {
		res.add(FieldFile, MsgFileType)
	}
	return res
}

// NormalizeContentType lowercases a MIME type and strips its parameters.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// Email reports whether email has a plausible address shape.
func Email(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// PasswordIssues lists the unmet password rules in display order. An empty
// slice means the password is strong enough.
func PasswordIssues(password string) []string {
	var issues []string
	if len([]rune(password)) < 8 {
		issues = append(issues, MsgPasswordLength)
	}
	var digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !digit {
		issues = append(issues, MsgPasswordDigit)
	}
	if !special {
		issues = append(issues, MsgPasswordSpecial)
	}
	return issues
}

// CredentialFields is the account part of the communication/credentials step.
type CredentialFields struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Credentials validates the email format, password strength and
// confirmation. Email availability is a server concern and is not checked here.
func Credentials(f CredentialFields) Result {
	res := newResult()
	if !Email(f.Email) {
		res.add(FieldEmail, MsgEmailInvalid)
	}
	if issues := PasswordIssues(f.Password); len(issues) > 0 {
		res.add(FieldPassword, issues[0])
	}
	if f.Password != f.ConfirmPassword {
		res.add(FieldConfirmPassword, MsgPasswordMismatch)
	}
	return res
}
