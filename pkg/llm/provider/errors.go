package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Error codes carried by ProviderError.Code
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication_error"
	ErrorCodeRateLimit       = "rate_limit_exceeded"
	ErrorCodeQuotaExceeded   = "quota_exceeded"
	ErrorCodeServerError     = "server_error"
	ErrorCodeNetwork         = "network_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeModelNotFound   = "model_not_found"
	ErrorCodeContentFiltered = "content_filtered"
	ErrorCodeUnknown         = "unknown_error"
)

var retryableCodes = map[string]bool{
	ErrorCodeRateLimit:   true,
	ErrorCodeServerError: true,
	ErrorCodeNetwork:     true,
	ErrorCodeTimeout:     true,
}

// ProviderError is a failed call to an LLM API, classified by Code.
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.OriginalError }

// NewProviderError builds a ProviderError; retryability follows the code.
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   retryableCodes[code],
	}
}

// IsRetryable reports whether err wraps a ProviderError worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsRetryable
}

// ErrorCode returns the code of the ProviderError in err, or "" when there
// is none.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorCodeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorCodeRateLimit
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrorCodeInvalidRequest
	case status == http.StatusNotFound:
		return ErrorCodeModelNotFound
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorCodeTimeout
	case status >= http.StatusInternalServerError:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

func statusError(provider string, status int, message string, original error) *ProviderError {
	e := NewProviderError(provider, codeForStatus(status), message, original)
	e.StatusCode = status
	return e
}

// transportError classifies an error that carried no API status. Context
// errors pass through untouched so callers can still match them.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewProviderError(provider, ErrorCodeTimeout, err.Error(), err)
	}
	return NewProviderError(provider, ErrorCodeNetwork, err.Error(), err)
}
