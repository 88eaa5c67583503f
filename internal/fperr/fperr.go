// ABOUTME: Typed error taxonomy for the fingerprint engine with numeric codes
// ABOUTME: Codes are grouped 1xxx device, 2xxx fingerprint, 3xxx database, 5xxx system

package fperr

import (
	"errors"
	"fmt"
)

// Code ranges. Auth codes (4xxx) belong to the API layer and are not defined here.
const (
	CodeDeviceNotFound     = 1001
	CodeDeviceBusy         = 1002
	CodeDeviceDisconnected = 1003
	CodeDeviceInitFailed   = 1004
	CodeDeviceTimeout      = 1005

	CodeLowQuality               = 2001
	CodeNoFingerprintDetected    = 2002
	CodeTemplateExtractionFailed = 2003
	CodeMatchFailed              = 2004
	CodeEnrollmentFailed         = 2005

	CodeTemplateNotFound = 3001
	CodeStoreUnavailable = 3002

	CodeInternal       = 5001
	CodeSessionTimeout = 5002
)

// Error is the engine-level error carried on every terminal failure.
// Details hold structured context (device_id, scans_completed, quality, ...)
// that the transport layer republishes verbatim.
type Error struct {
	Code    int
	Name    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Name, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code, so sentinel comparisons like
// errors.Is(err, fperr.DeviceBusy) work regardless of message or details.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Retryable reports whether the caller may retry the failed operation.
// Device busy/timeout and all capture-level failures are retryable; a
// terminal enrollment failure and lifecycle errors are not.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeDeviceBusy, CodeDeviceTimeout,
		CodeLowQuality, CodeNoFingerprintDetected,
		CodeTemplateExtractionFailed, CodeMatchFailed:
		return true
	}
	return false
}

// Sentinel instances for errors.Is comparisons. Use New/Wrap to build
// errors that actually carry a message and details.
var (
	DeviceNotFound     = &Error{Code: CodeDeviceNotFound, Name: "DEVICE_NOT_FOUND"}
	DeviceBusy         = &Error{Code: CodeDeviceBusy, Name: "DEVICE_BUSY"}
	DeviceDisconnected = &Error{Code: CodeDeviceDisconnected, Name: "DEVICE_DISCONNECTED"}
	DeviceInitFailed   = &Error{Code: CodeDeviceInitFailed, Name: "DEVICE_INIT_FAILED"}
	DeviceTimeout      = &Error{Code: CodeDeviceTimeout, Name: "DEVICE_TIMEOUT"}

	LowQuality               = &Error{Code: CodeLowQuality, Name: "LOW_QUALITY"}
	NoFingerprintDetected    = &Error{Code: CodeNoFingerprintDetected, Name: "NO_FINGERPRINT_DETECTED"}
	TemplateExtractionFailed = &Error{Code: CodeTemplateExtractionFailed, Name: "TEMPLATE_EXTRACTION_FAILED"}
	MatchFailed              = &Error{Code: CodeMatchFailed, Name: "MATCH_FAILED"}
	EnrollmentFailed         = &Error{Code: CodeEnrollmentFailed, Name: "ENROLLMENT_FAILED"}

	TemplateNotFound = &Error{Code: CodeTemplateNotFound, Name: "TEMPLATE_NOT_FOUND"}
	StoreUnavailable = &Error{Code: CodeStoreUnavailable, Name: "STORE_UNAVAILABLE"}

	Internal       = &Error{Code: CodeInternal, Name: "INTERNAL_ERROR"}
	SessionTimeout = &Error{Code: CodeSessionTimeout, Name: "SESSION_TIMEOUT"}
)

// New returns a copy of the sentinel with a formatted message attached.
func New(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Code:    sentinel.Code,
		Name:    sentinel.Name,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a cause to a sentinel, preserving the code and name.
func Wrap(sentinel *Error, cause error) *Error {
	e := &Error{
		Code:  sentinel.Code,
		Name:  sentinel.Name,
		cause: cause,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithDetails returns a copy of err carrying the given structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		Code:    e.Code,
		Name:    e.Name,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// From extracts the *Error from an error chain. Anything that is not an
// engine error is reported as INTERNAL_ERROR so callers always have a code.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Name: "INTERNAL_ERROR", Message: err.Error(), cause: err}
}
