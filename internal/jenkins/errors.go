package jenkins

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable wraps transport failures: refused connections, timeouts,
	// cancelled requests. The request may be retried by the caller.
	ErrUnavailable = errors.New("jenkins unavailable")
	// ErrNotFound matches an APIError with status 404.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists matches an APIError reporting an existing item.
	ErrAlreadyExists = errors.New("already exists")
	// ErrMalformedResponse is returned when a JSON or XML body is missing
	// fields the client relies on.
	ErrMalformedResponse = errors.New("malformed jenkins response")
)

// APIError is a non-success response. Message holds the body rendered as
// plain text, never raw HTML.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("jenkins responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("jenkins responded %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadyExists:
		if e.StatusCode == http.StatusConflict {
			return true
		}
		return e.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(e.Message), "already exists")
	}
	return false
}

// IsClientError reports whether err carries a 4xx response.
func IsClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// IsServerError reports whether err carries a 5xx response.
func IsServerError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
