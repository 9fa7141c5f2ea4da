package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotInitialized is returned without any network call when no
	// validated credential is available.
	ErrNotInitialized = errors.New("catalog client not initialized")

	// ErrRecipientNotFound is a normal business outcome of a search.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// APIError describes a non-2xx upstream response.
type APIError struct {
	Method string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog %s: status %d: %s", e.Method, e.Status, e.Body)
}

// ProviderError is a rejection reported by the provider inside a 2xx body.
type ProviderError struct {
	Method  string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("catalog %s: %s", e.Method, e.Message)
}

// IsAuthFailure reports whether err means the credential was rejected.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		msg := strings.ToLower(provErr.Message)
		return strings.Contains(msg, "access denied") || strings.Contains(msg, "session expired")
	}
	return false
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no telegram users found")
}
