package grounding

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error is a failed grounded query.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("grounding: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("grounding: %s: %s", e.Type, e.Message)
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// newError maps a Google API status and HTTP code onto an Error.
func newError(statusCode int, status, message string) *Error {
	var errType ErrorType
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		errType = ErrInvalidRequest
	case "UNAUTHENTICATED":
		errType = ErrAuthentication
	case "PERMISSION_DENIED":
		errType = ErrPermission
	case "NOT_FOUND":
		errType = ErrNotFound
	case "RESOURCE_EXHAUSTED":
		errType = ErrRateLimit
	case "INTERNAL":
		errType = ErrAPI
	case "UNAVAILABLE":
		errType = ErrOverloaded
	default:
		errType = ErrProvider
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		errType = ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrAuthentication
	}

	return &Error{Type: errType, Message: message, Code: status, StatusCode: statusCode}
}

// parseError builds an Error from a non-2xx REST response.
func parseError(resp *http.Response, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || ae.Error.Message == "" {
		e := newError(resp.StatusCode, "", string(body))
		if e.Type == ErrProvider && resp.StatusCode >= 500 {
			e.Type = ErrAPI
		}
		e.RetryAfter = retryAfter(resp)
		return e
	}
	e := newError(resp.StatusCode, ae.Error.Status, ae.Error.Message)
	e.RetryAfter = retryAfter(resp)
	return e
}

func retryAfter(resp *http.Response) *int {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return &secs
	}
	if at, err := http.ParseTime(raw); err == nil {
		secs := int(time.Until(at).Seconds())
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}
