package errors

import (
	"errors"
	"fmt"
)

// MediaErrorCode classifies media acquisition failures. The codes mirror the
// capture backend's error names so the fallback rules can match on them.
type MediaErrorCode string

const (
	CodeDeviceNotFound    MediaErrorCode = "NotFoundError"
	CodeOverconstrained   MediaErrorCode = "OverconstrainedError"
	CodeDeviceNotReadable MediaErrorCode = "NotReadableError"
	CodePermissionDenied  MediaErrorCode = "NotAllowedError"
	CodeUnknown           MediaErrorCode = "UnknownError"
)

// MediaError is a classified media acquisition failure.
type MediaError struct {
	Code  MediaErrorCode
	Cause error
}

func (e *MediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *MediaError) Unwrap() error {
	return e.Cause
}

// NewMediaError creates a classified media error.
func NewMediaError(code MediaErrorCode, cause error) *MediaError {
	return &MediaError{Code: code, Cause: cause}
}

// IsRecoverableMedia reports whether a media failure may be degraded around
// (video falling back to audio) instead of failing the operation. Device
// absence, unsatisfiable constraints and unreadable devices are recoverable;
// permission denials and unknown failures are fatal.
func IsRecoverableMedia(err error) bool {
	var me *MediaError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Code {
	case CodeDeviceNotFound, CodeOverconstrained, CodeDeviceNotReadable:
		return true
	}
	return false
}

// MediaCode extracts the classification of a media error, CodeUnknown when
// the error is not a media error.
func MediaCode(err error) MediaErrorCode {
	var me *MediaError
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeUnknown
}
