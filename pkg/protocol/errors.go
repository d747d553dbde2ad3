package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry, fallback, and surfacing decisions.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindTimeout            Kind = "timeout"
	KindConnection         Kind = "connection"
	KindSaturation         Kind = "saturation"
	KindProviderUnavail    Kind = "provider_unavailable"
	KindExhaustedProviders Kind = "exhausted_providers"
	KindDataIntegrity      Kind = "data_integrity"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
)

// Error is the module-wide structured error. Op names the failing
// operation ("graph.run", "router.complete"), Correlation ties the error
// to the originating request.
type Error struct {
	Kind        Kind
	Op          string
	Correlation string
	Err         error
}

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf wraps a formatted message with a kind and operation name.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithCorrelation returns a copy of e carrying the correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	clone := *e
	clone.Correlation = id
	return &clone
}

// KindOf extracts the Kind from err, unwrapping as needed. Plain context
// errors map to Cancelled and Timeout; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error kind permits a retry under the
// calling component's policy. Only transient IO classes qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConnection, KindProviderUnavail:
		return true
	}
	return false
}

// UserMessage maps an error to the generic text shown to clients. Internal
// detail never crosses this boundary.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "The request could not be understood."
	case KindUnauthorized:
		return "Authentication required."
	case KindForbidden:
		return "You do not have access to this information."
	case KindTimeout:
		return "The request took too long. Please try again."
	case KindSaturation:
		return "The system is busy. Please try again shortly."
	case KindProviderUnavail, KindExhaustedProviders:
		return "The assistant is temporarily unavailable. Please try again."
	case KindCancelled:
		return "The request was cancelled."
	default:
		return "Something went wrong while processing your request."
	}
}

// ErrorCode maps an error to the wire `code` field of error frames.
func ErrorCode(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return string(KindInternal)
}
