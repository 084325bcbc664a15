// Package errs defines the error-kind taxonomy shared across the database:
// every error a caller might want to branch on (a missing table, a bad
// vector dimension, a broken persisted file) carries a Kind an errors.As
// check can recover, on top of whatever message and wrapped cause explain
// it to a human.
package errs

import "fmt"

// Kind classifies an Error for programmatic handling.
type Kind int

const (
	// KindUnknown is the zero value; never constructed deliberately.
	KindUnknown Kind = iota
	// KindIO covers filesystem failures reading or writing a database file.
	KindIO
	// KindInvalidFormat covers a persisted file that fails to parse or
	// whose checksum doesn't match its contents.
	KindInvalidFormat
	// KindDimensionMismatch covers a vector whose length doesn't match its
	// table's configured dimension.
	KindDimensionMismatch
	// KindNotFound covers a missing table, row, or node id.
	KindNotFound
	// KindConstraintViolation covers a NOT NULL or UNIQUE violation.
	KindConstraintViolation
	// KindInvalidConfig covers a malformed or unsafe configuration value.
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInvalidFormat:
		return "invalid_format"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindNotFound:
		return "not_found"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindInvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned for classifiable failures. A
// caller can recover the Kind with errors.As and inspect the original
// cause with errors.Unwrap/errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind, looking through
// any wrapping via errors.As semantics.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if casted, ok := err.(*Error); ok {
			e = casted
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return e != nil && e.Kind == kind
}
