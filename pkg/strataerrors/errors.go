// Package strataerrors provides the normalized error taxonomy shared by every
// Strata provider. Backend-native failures are reclassified into a closed set
// of kinds before crossing the provider boundary, so callers handle failures
// with one switch statement regardless of backend.
//
// # Basic Usage
//
//	// Create a new error
//	err := strataerrors.New(strataerrors.KindInvalidInput, "batch size must be positive")
//
//	// Wrap a backend-native error, preserving it as the cause
//	if err := pool.Ping(ctx); err != nil {
//	    return strataerrors.Wrap(err, strataerrors.KindConnection, "failed to reach postgres").
//	        WithDetail("host", cfg.Host)
//	}
//
// # Kinds
//
// The kind set is closed: CONNECTION (transport/auth failure establishing or
// maintaining a link), NOT_FOUND (named target or item absent), INVALID_INPUT
// (caller-supplied argument violates a precondition), TIMEOUT (operation
// exceeded a deadline), PROVIDER (catch-all backend-reported failure).
// Adapters must not invent kinds outside this set.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Call WithDetail
// before sharing an error across goroutines.
package strataerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind categorizes a provider failure. The set is closed; see package docs.
type Kind string

const (
	// KindConnection represents transport or auth failures establishing or
	// maintaining a link to a backend.
	KindConnection Kind = "CONNECTION"
	// KindNotFound represents a missing named target (bucket, table,
	// collection, topic) or item (key, row, point).
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidInput represents a caller-supplied argument violating a
	// precondition.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindTimeout represents an operation exceeding its deadline.
	KindTimeout Kind = "TIMEOUT"
	// KindProvider represents any backend-reported failure not otherwise
	// classified.
	KindProvider Kind = "PROVIDER"
)

// Error is a structured provider error. Kind drives caller behavior, Message
// is human-readable, and Cause optionally preserves the originating backend
// error for diagnostics — it is never required for correctness.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame records one frame of the call stack captured at error creation.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value diagnostic to the error. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given kind and message, capturing the
// call stack at the point of creation.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a kind and message, preserving the
// original as the cause. If err is already a structured Error its stack is
// preserved. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Kind:    kind,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, kind, fmt.Sprintf(format, args...))
	e.Stack = captureStack(2)
	return e
}

// IsKind reports whether err is a structured Error of the given kind,
// searching the error chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of err. Unclassified errors report KindProvider,
// so callers always see a kind within the closed set.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindProvider
	}
	return e.Kind
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the given number of frames from the top.
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
