package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a security failure.
type Kind int

// Failure kinds.
const (
	KindInternalError Kind = iota
	KindUnauthenticated
	KindInvalidCredential
	KindExpired
	KindForbidden
	KindServiceUnavailable
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindExpired:
		return "expired"
	case KindForbidden:
		return "forbidden"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// Status returns the HTTP status code rendered for the kind.
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated, KindInvalidCredential, KindExpired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error codes returned to clients.
const (
	CodeGeneralError         = 900900
	CodeInvalidCredentials   = 900901
	CodeMissingCredentials   = 900902
	CodeExpired              = 900903
	CodeAPIBlocked           = 900907
	CodeForbidden            = 900908
	CodeSubscriptionInactive = 900909
	CodeInvalidScope         = 900910
)

// Client facing messages.
const (
	MessageGeneralError         = "Unclassified Authentication Failure"
	MessageInvalidCredentials   = "Invalid Credentials"
	MessageMissingCredentials   = "Missing Credentials"
	MessageExpired              = "Access Token Expired"
	MessageAPIBlocked           = "The requested API is temporarily blocked"
	MessageForbidden            = "User is NOT authorized to access the Resource. API Subscription validation failed."
	MessageSubscriptionInactive = "The subscription to the API is inactive"
)

// SecurityError is a classified authentication or authorization failure.
// Message is safe to return to the client; Cause is for logs only.
type SecurityError struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SecurityError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SecurityError of the same kind and code.
// A target with a zero code matches any code of that kind.
func (e *SecurityError) Is(target error) bool {
	var t *SecurityError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// Status returns the HTTP status code of the error.
func (e *SecurityError) Status() int {
	return e.Kind.Status()
}

// NewSecurityError creates a SecurityError.
func NewSecurityError(kind Kind, code int, message string) *SecurityError {
	return &SecurityError{Kind: kind, Code: code, Message: message}
}

// WithCause returns a copy of e carrying cause.
func (e *SecurityError) WithCause(cause error) *SecurityError {
	c := *e
	c.Cause = cause
	return &c
}

// Unauthenticated is returned when no usable credential was presented.
func Unauthenticated(message string) *SecurityError {
	return NewSecurityError(KindUnauthenticated, CodeMissingCredentials, message)
}

// InvalidCredential is returned for bad signatures, unknown issuers, tampered
// and revoked tokens.
func InvalidCredential(message string) *SecurityError {
	return NewSecurityError(KindInvalidCredential, CodeInvalidCredentials, message)
}

// Expired is returned for tokens past their expiry.
func Expired() *SecurityError {
	return NewSecurityError(KindExpired, CodeExpired, MessageExpired)
}

// Forbidden is returned when a valid credential is not entitled to the resource.
func Forbidden(code int, message string) *SecurityError {
	return NewSecurityError(KindForbidden, code, message)
}

// ServiceUnavailable is returned when the target API is blocked.
func ServiceUnavailable(message string) *SecurityError {
	return NewSecurityError(KindServiceUnavailable, CodeAPIBlocked, message)
}

// Internal wraps an unexpected collaborator failure behind the generic message.
func Internal(cause error) *SecurityError {
	return NewSecurityError(KindInternalError, CodeGeneralError, MessageGeneralError).WithCause(cause)
}

// Sentinel kinds usable with errors.Is.
var (
	ErrUnauthenticated    = &SecurityError{Kind: KindUnauthenticated}
	ErrInvalidCredential  = &SecurityError{Kind: KindInvalidCredential}
	ErrExpired            = &SecurityError{Kind: KindExpired}
	ErrForbidden          = &SecurityError{Kind: KindForbidden}
	ErrServiceUnavailable = &SecurityError{Kind: KindServiceUnavailable}
	ErrInternal           = &SecurityError{Kind: KindInternalError}
)

// AsSecurityError classifies err. A SecurityError anywhere in the chain is
// returned as is; anything else, cancellation included, becomes an
// InternalError with the generic message.
func AsSecurityError(err error) *SecurityError {
	if err == nil {
		return nil
	}
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return secErr
	}
	return Internal(err)
}

// KindOf returns the kind of err, or KindInternalError for unclassified errors.
func KindOf(err error) Kind {
	if secErr := AsSecurityError(err); secErr != nil {
		return secErr.Kind
	}
	return KindInternalError
}
