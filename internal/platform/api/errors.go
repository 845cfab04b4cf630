package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed failure returned for any non-2xx response. Callers that
// need to react to a specific status (the gateway's 401 handling) branch on
// StatusCode rather than matching strings in the message.
type Error struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// Unauthorized reports whether the error is an authentication failure.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
