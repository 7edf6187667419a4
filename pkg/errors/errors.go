// Package errors provides a structured error system for artfave with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for artfave operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Fetch errors, all recoverable from the cache's point of view
	ErrCodeFetchTimeout ErrorCode = "FETCH_TIMEOUT"
	ErrCodeFetchFailed  ErrorCode = "FETCH_FAILED"
	ErrCodeBatchTimeout ErrorCode = "BATCH_TIMEOUT"
	ErrCodeItemNotFound ErrorCode = "ITEM_NOT_FOUND"
	ErrCodeItemTooLarge ErrorCode = "ITEM_TOO_LARGE"
	ErrCodeCircuitOpen  ErrorCode = "CIRCUIT_OPEN"

	// Source and favorites errors
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrCodePathInvalid       ErrorCode = "PATH_INVALID"
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"

	// Session errors
	ErrCodeInvalidPosition ErrorCode = "INVALID_POSITION"
	ErrCodeEmptySource     ErrorCode = "EMPTY_SOURCE"
	ErrCodeSessionClosed   ErrorCode = "SESSION_CLOSED"
	ErrCodeNoMatch         ErrorCode = "NO_MATCH"

	// Internal
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategorySource        ErrorCategory = "source"
	CategorySession       ErrorCategory = "session"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:     CategoryConfiguration,
	ErrCodeConfigLoad:        CategoryConfiguration,
	ErrCodeConfigSave:        CategoryConfiguration,
	ErrCodeConfigValidation:  CategoryConfiguration,
	ErrCodeFetchTimeout:      CategoryFetch,
	ErrCodeFetchFailed:       CategoryFetch,
	ErrCodeBatchTimeout:      CategoryFetch,
	ErrCodeItemNotFound:      CategoryFetch,
	ErrCodeItemTooLarge:      CategoryFetch,
	ErrCodeCircuitOpen:       CategoryFetch,
	ErrCodeSourceUnavailable: CategorySource,
	ErrCodePathInvalid:       CategorySource,
	ErrCodeAlreadyExists:     CategorySource,
	ErrCodeInvalidPosition:   CategorySession,
	ErrCodeEmptySource:       CategorySession,
	ErrCodeSessionClosed:     CategorySession,
	ErrCodeNoMatch:           CategorySession,
}

// ArtfaveError represents a structured error with context and metadata.
type ArtfaveError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ArtfaveError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ArtfaveError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ArtfaveError with the same code.
func (e *ArtfaveError) Is(target error) bool {
	if other, ok := target.(*ArtfaveError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ArtfaveError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ArtfaveError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with default values for the code.
func NewError(code ErrorCode, message string) *ArtfaveError {
	return &ArtfaveError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *ArtfaveError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error of the given code around cause.
func Wrap(cause error, code ErrorCode, message string) *ArtfaveError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether a later attempt may succeed.
// Timeouts and an open circuit are transient; a missing or corrupt item is not.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFetchTimeout, ErrCodeBatchTimeout, ErrCodeCircuitOpen, ErrCodeSourceUnavailable, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first ArtfaveError in err's chain,
// or the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var ae *ArtfaveError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// HasCode reports whether err's chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *ArtfaveError) WithContext(key, value string) *ArtfaveError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *ArtfaveError) WithDetail(key string, value interface{}) *ArtfaveError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ArtfaveError) WithComponent(component string) *ArtfaveError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ArtfaveError) WithOperation(operation string) *ArtfaveError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ArtfaveError) WithCause(cause error) *ArtfaveError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *ArtfaveError) WithStack() *ArtfaveError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns a short message suitable for the status line of a viewer.
func (e *ArtfaveError) UserFacingMessage() string {
	messages := map[ErrorCode]string{
		ErrCodeFetchTimeout:      "Image took too long to load",
		ErrCodeFetchFailed:       "Image could not be read or is corrupted",
		ErrCodeItemNotFound:      "Image no longer exists",
		ErrCodeItemTooLarge:      "Image is too large to preload",
		ErrCodeCircuitOpen:       "Folder is temporarily unreachable",
		ErrCodeSourceUnavailable: "Folder is not available",
		ErrCodeEmptySource:       "Folder contains no images",
		ErrCodeInvalidConfig:     "Invalid configuration",
		ErrCodeAlreadyExists:     "Already in favorites",
	}

	if msg, ok := messages[e.Code]; ok {
		return msg
	}
	return e.Message
}
