package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ErrorType categorizes API errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrAPI            ErrorType = "api_error"
)

// Error is an API error from the backend.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("openai: %s: %s (status %d)", e.Type, e.Message, e.StatusCode)
}

// IsRetryable reports whether the call may succeed on retry.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// wireError is the error envelope returned by the API.
type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseError converts a non-2xx response into an *Error. Bodies that
// do not match the envelope are carried verbatim as the message.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &Error{
		Type:       errTypeForStatus(resp.StatusCode),
		Message:    string(body),
		StatusCode: resp.StatusCode,
	}

	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error.Message != "" {
		apiErr.Message = we.Error.Message
	}
	return apiErr
}

func errTypeForStatus(status int) ErrorType {
	switch status {
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusForbidden:
		return ErrPermission
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusServiceUnavailable:
		return ErrOverloaded
	default:
		return ErrAPI
	}
}
