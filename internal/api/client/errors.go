package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       domain.APIErrorBody // zero when the response was not an error document
	Raw        string
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Raw:        strings.TrimSpace(string(body)),
	}
	_ = json.Unmarshal(body, &e.Body) //nolint:errcheck // best-effort error parsing
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message())
}

// Message returns a human-readable description suitable for showing inline.
func (e *APIError) Message() string {
	msg := e.Body.Message
	if msg == "" {
		msg = e.Raw
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Body.Details) > 0 {
		parts := make([]string, 0, len(e.Body.Details))
		for _, d := range e.Body.Details {
			parts = append(parts, d.String())
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsForbidden reports whether err is a 403 response.
func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
