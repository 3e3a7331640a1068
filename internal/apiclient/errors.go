package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnauthenticated means there is no usable session and the caller has
	// been logged out. The UI should prompt for a new login.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTimeout matches any NetworkError caused by a deadline.
	ErrTimeout = errors.New("request timed out")
)

// NetworkError is returned when no HTTP response was obtained at all.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout()
}

// StatusError carries a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// IsNetwork reports whether err means the backend could not be reached.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func unauthenticated(cause error) error {
	if cause == nil {
		return ErrUnauthenticated
	}
	return fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorMessage)
}

const maxErrorMessage = 200

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
