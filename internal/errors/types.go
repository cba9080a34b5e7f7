// Package errors defines the structured error model shared by the compiler,
// the plan builder, the render executor and the preview server.
//
// Every failure surfaced to a caller is one of four kinds: a compile error
// (the source could not be bundled or its top-level code threw), a validation
// error (the template or a request has the wrong shape), a template runtime
// error (render threw mid-frame, see TemplateRuntimeError) or an environment
// error (a capture or encode backend is missing). Configuration and internal
// errors cover everything else.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile     ErrorType = "compile"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeRuntime     ErrorType = "runtime"
	ErrorTypeEnvironment ErrorType = "environment"
	ErrorTypeIO          ErrorType = "io"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeInternal    ErrorType = "internal"
)

// FramecastError is a structured error type with context.
type FramecastError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *FramecastError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FramecastError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FramecastError) Is(target error) bool {
	var t *FramecastError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FramecastError) WithContext(key string, value interface{}) *FramecastError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *FramecastError) WithLocation(filePath string, line, column int) *FramecastError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithCause attaches the underlying error.
func (e *FramecastError) WithCause(cause error) *FramecastError {
	e.Cause = cause

	return e
}

// Error creation functions

// NewCompileError creates a compile error. Compile errors abort before any
// template code has produced a frame.
func NewCompileError(code, message string, cause error) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewEnvironmentError creates an environment error.
func NewEnvironmentError(code, message string, cause error) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeEnvironment,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FramecastError {
	return &FramecastError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var fe *FramecastError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

// TypeOf returns the type of the outermost FramecastError in the chain, or an
// empty type when err carries none.
func TypeOf(err error) ErrorType {
	var fe *FramecastError
	if errors.As(err, &fe) {
		return fe.Type
	}
	var re *TemplateRuntimeError
	if errors.As(err, &re) {
		return ErrorTypeRuntime
	}

	return ""
}

// CodeOf returns the code of the first FramecastError in the chain.
func CodeOf(err error) string {
	var fe *FramecastError
	if errors.As(err, &fe) {
		return fe.Code
	}
	var re *TemplateRuntimeError
	if errors.As(err, &re) {
		return re.Code
	}

	return ""
}

// IsCompileError checks if an error is a compile error.
func IsCompileError(err error) bool {
	return hasType(err, ErrorTypeCompile)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsEnvironmentError checks if an error is an environment error.
func IsEnvironmentError(err error) bool {
	return hasType(err, ErrorTypeEnvironment)
}

// IsRuntimeError checks if an error carries a TemplateRuntimeError.
func IsRuntimeError(err error) bool {
	var re *TemplateRuntimeError
	return errors.As(err, &re)
}

// hasType walks the whole chain, so a validation error wrapped by a plan
// error is still reported as a validation error.
func hasType(err error, t ErrorType) bool {
	for err != nil {
		if fe, ok := err.(*FramecastError); ok && fe.Type == t {
			return true
		}
		err = errors.Unwrap(err)
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error with appropriate logging.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var re *TemplateRuntimeError
	if errors.As(err, &re) {
		h.logger.Error(ctx, err, "Template threw while rendering",
			"code", re.Code,
			"frame", re.Details.Frame,
			"scene_time_seconds", re.Details.TimeContext.SceneTimeSeconds,
			"scene_progress", re.Details.TimeContext.SceneProgress)
		return
	}

	var fe *FramecastError
	if !errors.As(err, &fe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch fe.Type {
	case ErrorTypeCompile, ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Template rejected",
			"type", fe.Type,
			"code", fe.Code,
			"file", fe.FilePath,
			"line", fe.Line)
	case ErrorTypeEnvironment:
		h.logger.Error(ctx, err, "Environment is missing a capability",
			"type", fe.Type,
			"code", fe.Code)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", fe.Type,
			"code", fe.Code)
	}
}

// Common error codes.
const (
	ErrCodeTemplateSyntax     = "ERR_TEMPLATE_SYNTAX"
	ErrCodeTemplateEvaluation = "ERR_TEMPLATE_EVALUATION"
	ErrCodeTemplateStructure  = "ERR_TEMPLATE_STRUCTURE"
	ErrCodeTemplateContract   = "ERR_TEMPLATE_CONTRACT"
	ErrCodeTemplateReturnType = "ERR_TEMPLATE_RETURN_TYPE"
	ErrCodeTemplateConfig     = "ERR_TEMPLATE_CONFIG"
	ErrCodeInvalidPlan        = "ERR_INVALID_PLAN"
	ErrCodeUnknownPreset      = "ERR_UNKNOWN_PRESET"
	ErrCodeFrameMismatch      = "ERR_FRAME_MISMATCH"
	ErrCodeFrameOrder         = "ERR_FRAME_ORDER"
	ErrCodeInvalidEncoding    = "ERR_INVALID_ENCODING"
	ErrCodeMissingBackend     = "ERR_MISSING_BACKEND"
	ErrCodeUnsupportedCodec   = "ERR_UNSUPPORTED_CODEC"
	ErrCodeAdapterFailed      = "ERR_ADAPTER_FAILED"
	ErrCodeInvalidPath        = "ERR_INVALID_PATH"
	ErrCodeFileNotFound       = "ERR_FILE_NOT_FOUND"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// FieldValidationError describes a single invalid field of a request or
// configuration value.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(field string, value interface{}, message string) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []*FieldValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	messages := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("validation failed with %d errors: %s", len(vec.Errors), strings.Join(messages, "; "))
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Errors = append(vec.Errors, NewFieldValidationError(field, value, message))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToFramecastError converts the collection to a single validation error, or
// nil when the collection is empty.
func (vec *ValidationErrorCollection) ToFramecastError(code string) *FramecastError {
	if !vec.HasErrors() {
		return nil
	}

	err := NewValidationError(code, vec.Error())
	for _, fe := range vec.Errors {
		err.WithContext(fe.FieldName, fe.FieldValue)
	}

	return err
}
