package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into the closed taxonomy the service is
// allowed to surface. Anything else is wrapped as KindInternal at the
// orchestrator boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPermission   Kind = "permission"
	KindConflict     Kind = "conflict"
	KindWindowClosed Kind = "window_closed"
	KindLocation     Kind = "location"
	KindMethod       Kind = "method"
	KindInternal     Kind = "internal"
)

// Stable machine codes carried alongside the kind.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeEventNotFound      = "EVENT_NOT_FOUND"
	CodeAttendanceNotFound = "ATTENDANCE_NOT_FOUND"
	CodeNotRegistered      = "NOT_REGISTERED"
	CodeEventCancelled     = "EVENT_CANCELLED"
	CodeEventEnded         = "EVENT_ALREADY_ENDED"
	CodeWindowClosed       = "CHECK_IN_WINDOW_CLOSED"
	CodeAlreadyMarked      = "ALREADY_MARKED"
	CodeAlreadyValidated   = "ALREADY_VALIDATED"
	CodeAlreadyCheckedOut  = "ALREADY_CHECKED_OUT"
	CodeInvalidQRCode      = "INVALID_QR_CODE"
	CodeLocationTooFar     = "LOCATION_TOO_FAR"
	CodeAccuracyLow        = "LOCATION_ACCURACY_LOW"
	CodeMethodNotAccepted  = "METHOD_NOT_ACCEPTED"
	CodePermissionDenied   = "INSUFFICIENT_PERMISSIONS"
	CodeInternal           = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches two taxonomy errors by code, so sentinel-style comparisons
// with errors.Is keep working.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidationFailed, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Permission(message string) *Error {
	return New(KindPermission, CodePermissionDenied, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func WindowClosed(message string) *Error {
	return New(KindWindowClosed, CodeWindowClosed, message)
}

func Location(code, message string) *Error {
	return New(KindLocation, code, message)
}

func Method(code, message string) *Error {
	return New(KindMethod, code, message)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, CodeInternal, "unexpected internal error", err)
}

// KindOf extracts the taxonomy kind of err, or KindInternal for anything
// outside the closed set.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable machine code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsTyped reports whether err belongs to the closed taxonomy already.
func IsTyped(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
