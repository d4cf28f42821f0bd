// Package llmerrors classifies failures of provider calls and orchestration runs.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType is the category of a classified error.
type ErrorType int8

const (
	// ErrorTypeConfiguration is a setup problem detected before any network call
	// (missing base URL, missing credential, unknown provider kind, empty prompt).
	ErrorTypeConfiguration ErrorType = iota
	// ErrorTypeRateLimit is a 429 or quota failure.
	ErrorTypeRateLimit
	// ErrorTypeTransient is a 5xx, EOF, reset or timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that produced nothing.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is a 401/403.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed request the vendor rejected.
	ErrorTypeBadPrompt
	// ErrorTypeUnsupportedInput is a request using a capability the model lacks (e.g. images).
	ErrorTypeUnsupportedInput
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown
	// ErrorTypePartialNode is a non-critical consensus node failure.
	ErrorTypePartialNode
	// ErrorTypeCriticalNode is a synthesis node or whole-graph failure.
	ErrorTypeCriticalNode
	// ErrorTypeServiceUnavailable is emitted after retries are exhausted.
	ErrorTypeServiceUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeConfiguration:
		return "configuration"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnsupportedInput:
		return "unsupported_input"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypePartialNode:
		return "partial_node"
	case ErrorTypeCriticalNode:
		return "critical_node"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified error.
type Error struct {
	Err        error     // wrapped cause
	Message    string    // human-readable message
	Type       ErrorType // classification
	StatusCode int       // HTTP status if known
}

// Error implements the error interface. The message is user-facing, so the
// category prefix is only added when there is no explicit message.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("%s error: status %d", e.Type, e.StatusCode)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a retry could plausibly succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// NewError creates a classified error.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(t ErrorType, status int, message string) *Error {
	return &Error{Type: t, StatusCode: status, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(t ErrorType, cause error, message string) *Error {
	return &Error{Type: t, Err: cause, Message: message}
}

// Configuration creates a ConfigurationError.
func Configuration(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is classified as t.
func Is(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	return Is(err, ErrorTypeConfiguration)
}

// IsRetryable reports whether err is a retryable classified error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// NewServiceUnavailableError wraps the last retryable error once attempts are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts: %v", attempts, cause),
	}
}

var statusPattern = regexp.MustCompile(`(?i)(?:status(?: code)?:?|http)\s*(\d{3})\b|\b(\d{3}) (?:bad request|unauthorized|forbidden|not found|unprocessable entity|too many requests|internal server error|bad gateway|service unavailable|gateway timeout)`)

// extractStatusCode finds an HTTP status code in an SDK error string.
func extractStatusCode(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g != "" {
			code, err := strconv.Atoi(g)
			if err == nil {
				return code
			}
		}
	}
	return 0
}

// Classify maps a raw vendor error to a classified Error. Already classified errors
// and context errors are returned as they are.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsUnsupportedImage(err) {
		return NewErrorWithCause(ErrorTypeUnsupportedInput, err, err.Error())
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	if classified := ClassifyStatus(extractStatusCode(msg), err); classified != nil {
		return classified
	}

	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset"):
		return &Error{Type: ErrorTypeTransient, Err: err, Message: msg}
	case containsAny(lower, "rate limit", "quota", "too many requests"):
		return &Error{Type: ErrorTypeRateLimit, Err: err, Message: msg}
	case containsAny(lower, "unauthorized", "invalid api key", "authentication"):
		return &Error{Type: ErrorTypeAuth, Err: err, Message: msg}
	}
	return &Error{Type: ErrorTypeUnknown, Err: err, Message: msg}
}

// ClassifyStatus classifies err by an HTTP status the caller already knows, returning nil
// when the status says nothing about the failure.
func ClassifyStatus(status int, err error) error {
	msg := err.Error()
	switch {
	case status == 401 || status == 403:
		return &Error{Type: ErrorTypeAuth, Err: err, StatusCode: status, Message: msg}
	case status == 429:
		return &Error{Type: ErrorTypeRateLimit, Err: err, StatusCode: status, Message: msg}
	case status == 400 || status == 404 || status == 422:
		if IsUnsupportedImage(err) {
			return &Error{Type: ErrorTypeUnsupportedInput, Err: err, StatusCode: status, Message: msg}
		}
		return &Error{Type: ErrorTypeBadPrompt, Err: err, StatusCode: status, Message: msg}
	case status == 408 || (status >= 500 && status <= 504) || status == 529:
		return &Error{Type: ErrorTypeTransient, Err: err, StatusCode: status, Message: msg}
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
