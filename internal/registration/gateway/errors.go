package gateway

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned by authenticated calls when no bearer token
// is available.
var ErrUnauthenticated = errors.New("gateway: no auth token")

// APIError is an application-level failure: a non-2xx status or an envelope
// with success=false. Message is the server's message, passed through as-is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("gateway: request rejected (status=%d)", e.StatusCode)
}

// ServerMessage returns the server-provided message carried by err, if any.
func ServerMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return "", false
}
