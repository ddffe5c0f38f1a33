// Package shared contains error kinds and domain events used across the
// schedule engine. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Base error kinds that can be checked with errors.Is().
var (
	// ErrAuth means the upstream rejected the credentials or the session.
	ErrAuth = errors.New("authentication rejected")

	// ErrConnectivity means the upstream was unreachable, timed out or
	// answered with a non-2xx transport failure.
	ErrConnectivity = errors.New("upstream unreachable")

	// ErrParse means a payload did not match the expected shape.
	ErrParse = errors.New("unexpected payload shape")

	// Configuration and state errors
	ErrValidation      = errors.New("validation error")
	ErrNotConfigured   = errors.New("not configured")
	ErrRefreshInFlight = errors.New("refresh already in flight")
	ErrNotFound        = errors.New("not found")
)

// ErrorKind is the coarse classification recorded on the coordinator state.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindAuth         ErrorKind = "auth"
	KindConnectivity ErrorKind = "connectivity"
	KindParse        ErrorKind = "parse"
	KindUnknown      ErrorKind = "unknown"
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, ErrParse):
		return KindParse
	default:
		return KindUnknown
	}
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// IsParse reports whether err is a payload shape failure.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "stopfinder", "coordinator"
	Op      string // Operation that failed, e.g., "Login", "FetchSchedule"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ParseError describes one record that failed normalization.
// It matches ErrParse with errors.Is().
type ParseError struct {
	Record string // e.g. "day[2].student[0].trip[1]"
	Field  string // e.g. "pickUpTime"
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Record != "" {
		b.WriteString(" at ")
		b.WriteString(e.Record)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Is implements errors.Is() matching against ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// NewParseError creates a ParseError for a record.
func NewParseError(record, field, reason string) *ParseError {
	return &ParseError{Record: record, Field: field, Reason: reason}
}
