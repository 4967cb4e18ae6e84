package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Configuration errors are fatal at startup and never raised at runtime
	ErrConfiguration  = errors.New("invalid configuration")
	ErrUnknownKnob    = errors.New("unknown knob")
	ErrUnknownMetric  = errors.New("unknown metric key")
	ErrUnknownStation = errors.New("unknown station")

	// Validation errors are rejected synchronously to the caller
	ErrValidation      = errors.New("validation failed")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrWrongValueType  = errors.New("wrong value type")
	ErrMalformedFrame  = errors.New("malformed audio frame")
	ErrMissingContext  = errors.New("missing required context field")

	// Runtime errors resolved locally, never propagated out of the frame path
	ErrComputeFailed = errors.New("metric compute failed")
	ErrQueueFull     = errors.New("queue capacity exceeded")
	ErrSegmentWrite  = errors.New("segment write failed")
	ErrStoreFailure  = errors.New("store operation failed")
)

// Error represents a structured error with caller location and context fields
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: err,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	if e.message == e.original.Error() {
		return e.message
	}

	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}

	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is reports whether any error in err's tree matches target
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

func (e *Error) clone(extraFields int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+extraFields),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

func firstFieldMap(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// NewConfiguration creates a fatal startup configuration error
func NewConfiguration(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrConfiguration,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "CONFIGURATION",
	}
}

// NewUnknownKnob reports a knob key absent from the catalog
func NewUnknownKnob(key string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrUnknownKnob,
		message:  fmt.Sprintf("unknown knob: %s", key),
		fields:   map[string]interface{}{"knob": key},
		file:     file,
		line:     line,
		Code:     "UNKNOWN_KNOB",
	}
}

// NewUnknownMetric reports a metric key absent from the catalog
func NewUnknownMetric(key string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrUnknownMetric,
		message:  fmt.Sprintf("unknown metric key: %s", key),
		fields:   map[string]interface{}{"metric": key},
		file:     file,
		line:     line,
		Code:     "UNKNOWN_METRIC",
	}
}

// NewUnknownStation reports a station ID absent from the registry
func NewUnknownStation(id string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrUnknownStation,
		message:  fmt.Sprintf("unknown station: %s", id),
		fields:   map[string]interface{}{"station": id},
		file:     file,
		line:     line,
		Code:     "UNKNOWN_STATION",
	}
}

// NewValueOutOfRange reports a knob write outside the declared range
func NewValueOutOfRange(key string, value, min, max interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrValueOutOfRange,
		message:  fmt.Sprintf("value out of range for %s: %v (allowed %v..%v)", key, value, min, max),
		fields:   map[string]interface{}{"knob": key, "value": value, "min": min, "max": max},
		file:     file,
		line:     line,
		Code:     "VALUE_OUT_OF_RANGE",
	}
}

// NewWrongValueType reports a knob write whose type does not match the catalog
func NewWrongValueType(key, expected string, value interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrWrongValueType,
		message:  fmt.Sprintf("invalid value for %s: expected %s, got %T", key, expected, value),
		fields:   map[string]interface{}{"knob": key, "expected": expected, "value": value},
		file:     file,
		line:     line,
		Code:     "WRONG_VALUE_TYPE",
	}
}

// NewMalformedFrame reports an input frame the processor cannot accept
func NewMalformedFrame(details string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrMalformedFrame,
		message:  fmt.Sprintf("malformed audio frame: %s", details),
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "MALFORMED_FRAME",
	}
}

// NewMissingContext reports a required context field absent from a frame call
func NewMissingContext(field string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrMissingContext,
		message:  fmt.Sprintf("missing required context field: %s", field),
		fields:   map[string]interface{}{"field": field},
		file:     file,
		line:     line,
		Code:     "MISSING_CONTEXT",
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}
