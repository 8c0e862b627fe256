// Package toolserr implements the error taxonomy from spec §7. Every
// component in the provider returns errors of this shape so the command bus
// façade can map them to a uniform OperationResult without inspecting
// transport-specific error types.
package toolserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by what went wrong, not by transport status code.
// Retryability and HTTP surface both derive from Kind.
type Kind string

const (
	KindValidation           Kind = "VALIDATION_ERROR"
	KindTemplate             Kind = "TEMPLATE_ERROR"
	KindNotFound             Kind = "NOT_FOUND"
	KindForbidden            Kind = "FORBIDDEN"
	KindConflict             Kind = "CONFLICT"
	KindUpstreamTimeout      Kind = "UPSTREAM_TIMEOUT"
	KindUpstreamConnection   Kind = "UPSTREAM_CONNECTION_ERROR"
	KindUpstreamError        Kind = "UPSTREAM_ERROR"
	KindCircuitOpen          Kind = "CIRCUIT_OPEN"
	KindCircuitTesting       Kind = "CIRCUIT_TESTING"
	KindTokenExchangeFailed  Kind = "TOKEN_EXCHANGE_FAILED"
	KindClientCredsFailed    Kind = "CLIENT_CREDENTIALS_FAILED"
	KindOIDCDiscoveryError   Kind = "OIDC_DISCOVERY_ERROR"
	KindPollTimeout          Kind = "POLL_TIMEOUT"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// retryableByDefault reports whether a Kind is retryable absent more
// specific information (e.g. TOKEN_EXCHANGE_FAILED's retryability depends on
// the IdP response and is set explicitly at construction time).
var retryableByDefault = map[Kind]bool{
	KindValidation:         false,
	KindTemplate:           false,
	KindNotFound:           false,
	KindForbidden:          false,
	KindConflict:           false,
	KindUpstreamTimeout:    true,
	KindUpstreamConnection: true,
	KindUpstreamError:      true,
	KindCircuitOpen:        true,
	KindCircuitTesting:     true,
	KindClientCredsFailed:  false,
	KindOIDCDiscoveryError: false,
	KindPollTimeout:        true,
	KindInternal:           false,
}

// Error is the uniform error shape crossing every component boundary.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Details   map[string]any
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As work across the boundary.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with the default retryability
// for that kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Retryable: retryableByDefault[kind]}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps cause in an Error of the given kind, preserving cause for
// errors.Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability (used by the Token
// Exchanger and External IdP Provider, whose retryability depends on the
// classified upstream response rather than the Kind alone).
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetails attaches non-sensitive contextual details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithCode overrides the default Code (which otherwise mirrors Kind), used
// for IdP-supplied error codes (e.g. "temporarily_unavailable").
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable reports whether err is a *Error marked retryable. Non-*Error
// values are treated as non-retryable.
func IsRetryable(err error) bool {
	te, ok := As(err)
	return ok && te.Retryable
}

// HTTPStatus maps a Kind to the HTTP surface status from §7's table.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return 400
	case KindTemplate:
		return 400
	case KindNotFound:
		return 404
	case KindForbidden:
		return 403
	case KindConflict:
		return 409
	case KindUpstreamTimeout, KindUpstreamConnection, KindUpstreamError, KindCircuitOpen, KindCircuitTesting:
		return 503
	case KindTokenExchangeFailed:
		return 401
	case KindClientCredsFailed:
		return 401
	case KindOIDCDiscoveryError:
		return 502
	default:
		return 500
	}
}

// TruncateBody truncates an upstream response body for inclusion in error
// details so debugging context never leaks unbounded upstream payloads.
func TruncateBody(body []byte, limit int) string {
	if limit <= 0 {
		limit = 500
	}
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "...(truncated)"
}
