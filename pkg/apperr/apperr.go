// Package apperr defines the closed set of error kinds the rest of the
// service is allowed to return across a service boundary. Handlers never
// construct ad hoc error payloads; they return an *Error (or a wrapped
// one) and let middleware.ErrorHandler translate it into the wire format.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed tag of an Error. Adding a new kind means updating
// every switch that dispatches on it — that is the point.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindPermission Kind = "permission"
	KindRateLimit  Kind = "rate_limit"
	KindConflict   Kind = "conflict"
	KindFraudGate  Kind = "fraud_gate"
	KindProvider   Kind = "provider"
	KindInternal   Kind = "internal"
)

// Error is the tagged-variant error every service layer returns.
// Message is safe to show to a caller; Internal, if set, is logged but
// never serialized in the response body.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Internal error
	Fields   map[string]string
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Internal)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Internal }

// HTTPStatus maps a Kind to its canonical status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	case KindFraudGate:
		return http.StatusForbidden
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func new(kind Kind, code, message string, internal error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Internal: internal}
}

func Validation(code, message string) *Error { return new(KindValidation, code, message, nil) }
func Auth(code, message string) *Error       { return new(KindAuth, code, message, nil) }
func Permission(code, message string) *Error { return new(KindPermission, code, message, nil) }
func RateLimit(code, message string) *Error  { return new(KindRateLimit, code, message, nil) }
func Conflict(code, message string) *Error   { return new(KindConflict, code, message, nil) }
func FraudGate(code, message string) *Error  { return new(KindFraudGate, code, message, nil) }
func Provider(code, message string, cause error) *Error {
	return new(KindProvider, code, message, cause)
}
func Internal(code string, cause error) *Error {
	return new(KindInternal, code, "an internal error occurred", cause)
}

// WithField attaches a per-field validation detail and returns e for chaining.
func (e *Error) WithField(field, reason string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
	return e
}

// As extracts an *Error from err, unwrapping as needed.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
