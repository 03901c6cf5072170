// Package errors provides a structured error system for the fastpath data
// plane with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for data-plane operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Connection and pool errors
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeAcquisitionTimeout ErrorCode = "ACQUISITION_TIMEOUT"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrCodeDoubleRelease      ErrorCode = "DOUBLE_RELEASE"
	ErrCodeForeignHandle      ErrorCode = "FOREIGN_HANDLE"

	// Cache errors
	ErrCodeCacheTierUnavailable ErrorCode = "CACHE_TIER_UNAVAILABLE"
	ErrCodeSerializationFailed  ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeKeyInvalid           ErrorCode = "KEY_INVALID"

	// State management errors
	ErrCodePoolExists         ErrorCode = "POOL_EXISTS"
	ErrCodePoolNotFound       ErrorCode = "POOL_NOT_FOUND"
	ErrCodePoolClosed         ErrorCode = "POOL_CLOSED"
	ErrCodeAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Operation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryCache         ErrorCategory = "cache"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// FastpathError represents a structured error with context and metadata.
type FastpathError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Retryable hints the caller whether a retry can succeed; retry policy
	// itself is owned by the caller.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *FastpathError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FastpathError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *FastpathError) Is(target error) bool {
	if fpErr, ok := target.(*FastpathError); ok {
		return e.Code == fpErr.Code
	}
	return false
}

// JSON returns the error as a JSON string.
func (e *FastpathError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new fastpath error with default values.
func NewError(code ErrorCode, message string) *FastpathError {
	return &FastpathError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "ACQUISITION_") ||
		strings.HasPrefix(codeStr, "BACKEND_") || strings.HasPrefix(codeStr, "CIRCUIT_") ||
		strings.HasPrefix(codeStr, "DOUBLE_") || strings.HasPrefix(codeStr, "FOREIGN_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "CACHE_") || strings.HasPrefix(codeStr, "SERIALIZATION_") ||
		strings.HasPrefix(codeStr, "KEY_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "POOL_") || strings.HasPrefix(codeStr, "ALREADY_") ||
		strings.HasPrefix(codeStr, "NOT_INITIALIZED") || strings.HasPrefix(codeStr, "SHUTDOWN_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "VALIDATION_") || strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Validation failures are deliberately absent: a request that fails
// compliance validation is never retried.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionFailed:     true,
		ErrCodeAcquisitionTimeout:   true,
		ErrCodeBackendUnavailable:   true,
		ErrCodeCacheTierUnavailable: true,
		ErrCodeOperationTimeout:     true,
		ErrCodeInternalError:        true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error.
func (e *FastpathError) WithContext(key, value string) *FastpathError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *FastpathError) WithDetail(key string, value interface{}) *FastpathError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *FastpathError) WithComponent(component string) *FastpathError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *FastpathError) WithOperation(operation string) *FastpathError {
	e.Operation = operation
	return e
}

// WithRequestID sets the request ID for an error.
func (e *FastpathError) WithRequestID(id string) *FastpathError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause.
func (e *FastpathError) WithCause(cause error) *FastpathError {
	e.Cause = cause
	return e
}

// IsCode reports whether err carries the given fastpath error code anywhere
// in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if fpErr, ok := err.(*FastpathError); ok && fpErr.Code == code {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
