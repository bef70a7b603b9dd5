// Package gateway is the client for the MediWay registration REST API. Each
// wizard step maps to exactly one call; responses share the
// {success, data, message} envelope.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

const defaultUserAgent = "mediway-kiosk/1.0"

var tracer = otel.Tracer("mediway.internal.registration.gateway")

// Observer receives one observation per API call.
type Observer interface {
	ObserveGatewayCall(op, outcome string, seconds float64)
}

// Config controls how the Client behaves. A zero Timeout means requests are
// bounded only by the caller's context.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Observer   Observer
	UserAgent  string
}

// Client wraps the registration endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	observer   Observer
	userAgent  string
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		observer:   cfg.Observer,
		userAgent:  userAgent,
	}, nil
}

// StartRegistration opens a registration and returns its server-issued ID.
func (c *Client) StartRegistration(ctx context.Context) (string, error) {
	data, err := c.postJSON(ctx, "start", "/api/registration/start", struct{}{}, "")
	if err != nil {
		return "", err
	}
	var out struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := decodeData(data, &out); err != nil {
		return "", err
	}
	if out.RegistrationID == "" {
		return "", errors.New("gateway: start response missing registrationId")
	}
	return out.RegistrationID, nil
}

func (c *Client) SavePersonalInfo(ctx context.Context, req PersonalInfoRequest) (*Registration, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return c.saveStep(ctx, "personal_info", "/api/registration/personal-info", req)
}

// UploadDocument posts the identity document as multipart/form-data.
func (c *Client) UploadDocument(ctx context.Context, doc DocumentUpload) (*Registration, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"registrationId", doc.RegistrationID},
		{"documentType", doc.DocumentType},
		{"idNumber", doc.IDNumber},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("gateway: write field %s: %w", f[0], err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.FileName))
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("gateway: create form file: %w", err)
	}
	if _, err := io.Copy(part, doc.Content); err != nil {
		return nil, fmt.Errorf("gateway: copy document: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gateway: close multipart writer: %w", err)
	}
	data, err := c.invoke(ctx, "document", http.MethodPost, "/api/registration/document", buf.Bytes(), writer.FormDataContentType(), "")
	if err != nil {
		return nil, err
	}
	return decodeRegistration(data)
}

func (c *Client) SaveMedicalInfo(ctx context.Context, req MedicalInfoRequest) (*Registration, error) {
	return c.saveStep(ctx, "medical_info", "/api/registration/medical-info", req)
}

func (c *Client) SaveCommunication(ctx context.Context, req CommunicationRequest) (*Registration, error) {
	return c.saveStep(ctx, "communication", "/api/registration/communication", req)
}

func (c *Client) SaveCredentials(ctx context.Context, req CredentialsRequest) (*Registration, error) {
	return c.saveStep(ctx, "credentials", "/api/registration/credentials", req)
}

// CheckEmail asks the server whether email can still be registered.
func (c *Client) CheckEmail(ctx context.Context, email string) (*EmailAvailability, error) {
	data, err := c.postJSON(ctx, "check_email", "/api/registration/check-email", map[string]string{"email": email}, "")
	if err != nil {
		return nil, err
	}
	var out EmailAvailability
	if err := decodeData(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteRegistration finalises the registration. The server creates the user
// account and patient record and returns an auth token.
func (c *Client) CompleteRegistration(ctx context.Context, registrationID string) (*Completion, error) {
	if strings.TrimSpace(registrationID) == "" {
		return nil, errors.New("gateway: registration id required")
	}
	data, err := c.postJSON(ctx, "complete", "/api/registration/complete", map[string]string{"registrationId": registrationID}, "")
	if err != nil {
		return nil, err
	}
	var out Completion
	if err := decodeData(data, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("gateway: complete response missing token")
	}
	return &out, nil
}

// CurrentUser fetches the signed-in user's record with a bearer token.
func (c *Client) CurrentUser(ctx context.Context, token string) (json.RawMessage, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}
	data, err := c.invoke(ctx, "current_user", http.MethodGet, "/api/auth/me", nil, "", token)
	if err != nil {
		return nil, err
	}
	var out struct {
		User json.RawMessage `json:"user"`
	}
	if err := decodeData(data, &out); err != nil {
		return nil, err
	}
	if len(out.User) == 0 {
		return data, nil
	}
	return out.User, nil
}

func (c *Client) saveStep(ctx context.Context, op, path string, payload any) (*Registration, error) {
	data, err := c.postJSON(ctx, op, path, payload, "")
	if err != nil {
		return nil, err
	}
	return decodeRegistration(data)
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any, token string) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal %s body: %w", op, err)
	}
	return c.invoke(ctx, op, http.MethodPost, path, body, "application/json", token)
}

// invoke performs one request with no retries and returns the envelope's data.
func (c *Client) invoke(ctx context.Context, op, method, path string, body []byte, contentType, token string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "registration."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	start := time.Now()
	data, status, err := c.do(ctx, method, path, body, contentType, token)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("http.status_code", status))

	outcome := "success"
	if err != nil {
		outcome = "error"
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			outcome = "rejected"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		c.logger.Warn("registration api call failed",
			"op", op,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		c.logger.Debug("registration api call",
			"op", op,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	if c.observer != nil {
		c.observer.ObserveGatewayCall(op, outcome, elapsed.Seconds())
	}
	return data, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType, token string) (json.RawMessage, int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("gateway: %w", ctx.Err())
		}
		return nil, 0, fmt.Errorf("gateway: http error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gateway: read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("gateway: decode response: %w", decodeErr)
	}
	if !env.Success {
		return nil, resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env.Data, resp.StatusCode, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

func decodeData(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("gateway: response missing data")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode data: %w", err)
	}
	return nil
}

func decodeRegistration(data json.RawMessage) (*Registration, error) {
	var out struct {
		Registration Registration `json:"registration"`
	}
	if err := decodeData(data, &out); err != nil {
		return nil, err
	}
	return &out.Registration, nil
}
