// Package explorererrors provides structured errors for the Iceberg explorer.
//
// Every error carries an ErrorType that drives three decisions:
//   - whether a storage call is retried (see IsRetryable)
//   - which HTTP status the API layer answers with
//   - whether a failure is contained locally (manifest reads) or surfaced
//
// # Basic Usage
//
//	err := explorererrors.New(explorererrors.ErrorTypeNotFound, "no metadata files found").
//	    WithDetail("searched_prefixes", prefixes)
//
//	if explorererrors.IsType(err, explorererrors.ErrorTypeNotFound) {
//	    // answer 404
//	}
//
// Stack frames are captured where the error is created so logs can point at the
// resolution step that failed.
package explorererrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents unexpected internal failures
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid caller input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents missing metadata, objects or snapshots
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeParse represents a metadata body that is not valid JSON or not a metadata shape
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypePermission represents credentials rejected for the requested resource
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeAuthentication represents missing, expired or invalid credentials
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeRateLimit represents backend throttling
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents deadline or cancellation errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transient transport or server-side errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents undecodable data payloads
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability represents an operation a backend does not support
	ErrorTypeCapability ErrorType = "capability"
)

// Error is a categorized error with optional cause, details and stack.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single captured call frame.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value detail and returns the same error for chaining.
//
// Example:
//
//	err := explorererrors.New(explorererrors.ErrorTypeNotFound, "snapshot not found").
//	    WithDetail("snapshot_id", "999999")
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type and captures the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. A structured cause keeps its stack
// and details. Returns nil when err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		wrapped := &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
		for k, v := range existing.Details {
			wrapped.WithDetail(k, v)
		}
		return wrapped
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// TypeOf returns the type of the outermost structured error in the chain, or
// ErrorTypeInternal when err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// DetailsOf returns the details of the outermost structured error in the chain.
func DetailsOf(err error) map[string]interface{} {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	return e.Details
}

// IsType reports whether the outermost structured error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsRetryable reports whether a storage call failing with err is worth repeating.
// Rate limit, timeout and connection errors are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsCredentialError reports whether err means the backend rejected the caller's
// credentials. These errors are never contained locally.
func IsCredentialError(err error) bool {
	return IsType(err, ErrorTypeAuthentication) || IsType(err, ErrorTypePermission)
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
