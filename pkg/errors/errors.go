// Package errors provides the error types used across the Privlens SDK.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all SDK errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "client.ScanStatus")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
	KindTimeout
	KindNetwork
	KindServer
	KindSchema
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindSchema:
		return "schema"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// KindFromStatus maps an HTTP status code to an error Kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindInvalidInput
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// HTTP Error
// =============================================================================

// HTTPError represents a non-2xx response from the Privlens API.
// Body holds the decoded JSON error body when the server sent one,
// otherwise the raw response text.
type HTTPError struct {
	// StatusCode is the HTTP status code
	StatusCode int `json:"status_code"`

	// Message is the human-readable message extracted from the error body
	Message string `json:"message"`

	// Body is the decoded error body (map) or the raw text
	Body any `json:"body,omitempty"`

	// RequestID is the client-generated request ID for correlation
	RequestID string `json:"request_id,omitempty"`

	// RetryAfter is the server-provided retry hint; zero means no hint
	RetryAfter time.Duration `json:"retry_after_ms,omitempty"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("HTTP %d %s: %s (request_id: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Message, e.RequestID)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Kind returns the error Kind derived from the status code.
func (e *HTTPError) Kind() Kind {
	return KindFromStatus(e.StatusCode)
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op first, then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with an operation name.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapWithMessage wraps an error with a message.
func WrapWithMessage(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
// HTTPError kinds are derived from the status code.
func GetKind(err error) Kind {
	if k := kindOf(err); k != KindUnknown {
		return k
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Kind()
	}
	return KindUnknown
}

// IsHTTPError checks if err is an HTTPError and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// RetryAfterHint returns the server-provided retry hint carried by the
// error, or zero when none is present.
func RetryAfterHint(err error) time.Duration {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.RetryAfter
	}
	return 0
}

// IsRateLimitError checks if the error is a rate limit error.
func IsRateLimitError(err error) bool {
	if kindOf(err) == KindRateLimit {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRateLimitExhausted checks if the error is the surfaced give-up error
// produced when rate-limit retries exceeded their time budget. Identity of
// the sentinel is checked directly because Error.Is matches any error of
// the same Kind.
func IsRateLimitExhausted(err error) bool {
	for err != nil {
		if err == error(ErrRateLimitExhausted) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsAuthenticationError checks if the error is an authentication error.
func IsAuthenticationError(err error) bool {
	if kindOf(err) == KindAuthentication {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsAuthorizationError checks if the error is an authorization error.
func IsAuthorizationError(err error) bool {
	if kindOf(err) == KindAuthorization {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsNotFoundError checks if the error is a not found error.
func IsNotFoundError(err error) bool {
	if kindOf(err) == KindNotFound {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsSchemaError checks if the error is a shape-validation error.
func IsSchemaError(err error) bool {
	return kindOf(err) == KindSchema
}

// IsNetworkError checks if the error is a network error.
func IsNetworkError(err error) bool {
	return kindOf(err) == KindNetwork
}

// IsTimeoutError checks if the error is a timeout error.
func IsTimeoutError(err error) bool {
	return kindOf(err) == KindTimeout
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	if IsRateLimitError(err) || IsNetworkError(err) || IsTimeoutError(err) {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		// Retry on 5xx errors (except 501 Not Implemented)
		return httpErr.StatusCode >= 500 && httpErr.StatusCode != 501
	}
	return false
}

// kindOf reads the Kind from *Error values only. HTTPError status codes are
// matched explicitly per checker so that Kind and status stay independent.
// Wrappers produced by Wrap carry KindUnknown, so the walk continues into
// the wrapped error until a classified one is found.
func kindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrMissingBaseURL is returned when the client base URL is missing.
	ErrMissingBaseURL = &Error{Kind: KindInvalidInput, Message: "base URL is required"}

	// ErrMissingAPIKey is returned when no credential source is configured.
	ErrMissingAPIKey = &Error{Kind: KindAuthentication, Message: "API key is required"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = &Error{Kind: KindTimeout, Message: "operation timed out"}

	// ErrRateLimited is returned when the API rate limits the client.
	ErrRateLimited = &Error{Kind: KindRateLimit, Message: "rate limited"}

	// ErrRateLimitExhausted is returned when rate-limit retries exceeded the
	// give-up ceiling without a successful response in between.
	ErrRateLimitExhausted = &Error{Kind: KindRateLimit, Message: "rate limit retries exhausted"}

	// ErrScanNotFound is returned when the scan id is unknown to the service.
	ErrScanNotFound = &Error{Kind: KindNotFound, Message: "scan not found"}
)
