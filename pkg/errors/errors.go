package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Standard error sentinel values
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrCanceled           = errors.New("operation canceled")

	// Domain-specific error sentinel values
	ErrParseFailure        = errors.New("filename does not match naming convention")
	ErrAlreadyProcessing   = errors.New("call is already being processed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAnalysisFailed      = errors.New("analysis failed")
	ErrAssemblyIncomplete  = errors.New("upload assembly incomplete")
	ErrStorageFailure      = errors.New("durable store operation failed")
	ErrSizeLimitExceeded   = errors.New("asset exceeds provider size limit")
	ErrCallNotFound        = errors.New("call record not found")
)

// Error represents a structured error with stack trace and additional context
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// stackPC is the program counter for the error's creation
	stackPC uintptr

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: err,
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	// Create a copy to avoid modifying the original
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}

	for k, v := range e.fields {
		result.fields[k] = v
	}

	result.fields[key] = value

	return result
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+len(fields)),
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}

	for k, v := range e.fields {
		result.fields[k] = v
	}

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

	return &Error{
		original: e.original,
		message:  e.message,
		fields:   e.fields,
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     code,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	// Include both our message and the original error
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

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether any error in err's tree matches target.
// Implements the errors.Is interface.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

// AsJSON returns the error in JSON-friendly map format
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}

	if e.Code != "" {
		result["code"] = e.Code
	}

	if len(e.fields) > 0 {
		result["context"] = e.fields
	}

	return result
}

// newSentinel builds a structured error around a sentinel error with a code.
// Caller depth 2 keeps the recorded location at the exported constructor's caller.
func newSentinel(original error, message, code string, fields []map[string]interface{}) *Error {
	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	}

	pc, file, line, _ := runtime.Caller(2)

	return &Error{
		original: original,
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
		Code:     code,
	}
}

// NewParseFailure creates a new ErrParseFailure with the offending filename attached
func NewParseFailure(filename, details string, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrParseFailure, fmt.Sprintf("cannot parse filename %q: %s", filename, details), "PARSE_FAILURE", fields)
	err.fields["filename"] = filename
	return err
}

// NewAlreadyProcessing creates a new ErrAlreadyProcessing for a duplicate trigger
func NewAlreadyProcessing(callID, status string, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrAlreadyProcessing, fmt.Sprintf("call %s is already in status %s", callID, status), "ALREADY_PROCESSING", fields)
	err.fields["call_id"] = callID
	err.fields["status"] = status
	return err
}

// NewTranscriptionFailed wraps a transcription provider failure
func NewTranscriptionFailed(callID string, cause error, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrTranscriptionFailed, fmt.Sprintf("transcription failed for call %s: %v", callID, cause), "TRANSCRIPTION_FAILED", fields)
	err.fields["call_id"] = callID
	return err
}

// NewAnalysisFailed wraps an analysis engine failure
func NewAnalysisFailed(callID string, cause error, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrAnalysisFailed, fmt.Sprintf("analysis failed for call %s: %v", callID, cause), "ANALYSIS_FAILED", fields)
	err.fields["call_id"] = callID
	return err
}

// NewAssemblyIncomplete creates a new ErrAssemblyIncomplete
func NewAssemblyIncomplete(filename string, missing int, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrAssemblyIncomplete, fmt.Sprintf("assembly of %s incomplete, %d fragments missing", filename, missing), "ASSEMBLY_INCOMPLETE", fields)
	err.fields["filename"] = filename
	err.fields["missing"] = missing
	return err
}

// NewStorageFailure wraps a durable store failure
func NewStorageFailure(operation string, cause error, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrStorageFailure, fmt.Sprintf("store operation %s failed: %v", operation, cause), "STORAGE_FAILURE", fields)
	err.fields["operation"] = operation
	return err
}

// NewSizeLimitExceeded reports an asset still over the ceiling after compression
func NewSizeLimitExceeded(path string, size, ceiling int64, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrSizeLimitExceeded, fmt.Sprintf("%s is %d bytes, ceiling is %d", path, size, ceiling), "SIZE_LIMIT_EXCEEDED", fields)
	err.fields["path"] = path
	err.fields["size"] = size
	err.fields["ceiling"] = ceiling
	return err
}

// NewCallNotFound creates a new ErrCallNotFound with additional context
func NewCallNotFound(callID string, fields ...map[string]interface{}) *Error {
	err := newSentinel(ErrCallNotFound, fmt.Sprintf("call record not found: %s", callID), "CALL_NOT_FOUND", fields)
	err.fields["call_id"] = callID
	return err
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
