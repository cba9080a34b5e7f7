package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a FramecastError if
// the input is not already one. Location and context of an existing
// FramecastError are carried over.
func Wrap(err error, errType ErrorType, code, message string) *FramecastError {
	if err == nil {
		return nil
	}

	var fe *FramecastError
	if errors.As(err, &fe) {
		return &FramecastError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       err,
			Context:     fe.Context,
			FilePath:    fe.FilePath,
			Line:        fe.Line,
			Column:      fe.Column,
			Recoverable: fe.Recoverable,
		}
	}

	return &FramecastError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeCompile,
	}
}

// WrapWithContext wraps an error with context information
func WrapWithContext(err error, errType ErrorType, code, message string, context map[string]interface{}) *FramecastError {
	wrapped := Wrap(err, errType, code, message)
	if wrapped != nil {
		wrapped.Context = context
	}
	return wrapped
}

// WrapEnvironment wraps an error as an environment error
func WrapEnvironment(err error, code, message string) *FramecastError {
	return Wrap(err, ErrorTypeEnvironment, code, message)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *FramecastError {
	return Wrap(err, ErrorTypeInternal, code, message)
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *FramecastError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// RootCause follows the Unwrap chain to the innermost error.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// As is re-exported so callers importing this package under its default
// name keep access to the standard helper.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is re-exported for the same reason as As.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is re-exported for the same reason as As.
func New(text string) error {
	return errors.New(text)
}
