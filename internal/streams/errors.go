package streams

import (
	"errors"
	"fmt"
)

// StreamError represents a domain-specific error
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	switch {
	case e.Cause != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeStreamNotFound   = "STREAM_NOT_FOUND"
	ErrCodeStreamExists     = "STREAM_EXISTS"
	ErrCodeInvalidParams    = "INVALID_PARAMS"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeProtocolError    = "PROTOCOL_ERROR"
	ErrCodeSinkWrite        = "SINK_WRITE"
	ErrCodeOutputsFull      = "OUTPUTS_FULL"
	ErrCodeDuplicateOutput  = "DUPLICATE_OUTPUT"
	ErrCodeOutputNotFound   = "OUTPUT_NOT_FOUND"
	ErrCodeStillReferenced  = "STILL_REFERENCED"
	ErrCodeStartFailed      = "START_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeConfigError      = "CONFIG_ERROR"
)

// NewStreamError creates a new stream error
func NewStreamError(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapError attaches a code to an existing error.
func WrapError(code string, err error) *StreamError {
	return &StreamError{Code: code, Cause: err}
}

// IsCode reports whether err is a StreamError carrying the given code.
func IsCode(err error, code string) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Code == code
}
