package attendance

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode categorizes failures that the core handles locally.
type ErrorCode string

const (
	// ErrCodePermissionDenied indicates location or network permission is missing.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeProbeTimeout indicates a fresh location fix was not acquired in time.
	ErrCodeProbeTimeout ErrorCode = "PROBE_TIMEOUT"

	// ErrCodeNoFix indicates the probe has no location to report.
	ErrCodeNoFix ErrorCode = "NO_FIX"

	// ErrCodeRemoteUnavailable indicates a transient remote store failure.
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"

	// ErrCodeMissingUser indicates a record cannot be attributed to a user.
	ErrCodeMissingUser ErrorCode = "MISSING_USER"

	// ErrCodeMalformedRecord indicates a stored record failed validation.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"

	// ErrCodeNoZone indicates no zone was ever saved.
	ErrCodeNoZone ErrorCode = "NO_ZONE"
)

// Error is a categorized error. Op names the operation that failed.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error without an underlying cause.
func NewError(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// WrapError creates an Error around an underlying cause.
func WrapError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsPermissionError reports whether err was caused by a revoked permission.
func IsPermissionError(err error) bool {
	return CodeOf(err) == ErrCodePermissionDenied
}

// IsTimeout reports whether err is a probe timeout, including context deadlines.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeProbeTimeout || errors.Is(err, context.DeadlineExceeded)
}

// IsDataError reports whether err describes a record that cannot be processed
// as stored. Such records are skipped, never marked done.
func IsDataError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeMissingUser, ErrCodeMalformedRecord:
		return true
	}
	return false
}
