package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is an RFC 7807 problem response from the master.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", strings.ToLower(e.Title), e.Detail)
	}
	return strings.ToLower(e.Title)
}

// IsAuthError returns true for 401 and 403 responses.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound returns true for 404 responses.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true for 409 responses.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsQuotaExceeded returns true for 507 responses.
func (e *APIError) IsQuotaExceeded() bool {
	return e.StatusCode == http.StatusInsufficientStorage
}

// IsConflict reports whether err is a 409 from the master.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsConflict()
}

// IsNotFound reports whether err is a 404 from the master.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// IsQuotaExceeded reports whether err is a 507 from the master.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsQuotaExceeded()
}

// decodeAPIError builds an APIError from a problem+json body, falling
// back to the raw body when it does not parse.
func decodeAPIError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Title != "" {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{
		StatusCode: status,
		Title:      http.StatusText(status),
		Detail:     strings.TrimSpace(string(body)),
	}
}
