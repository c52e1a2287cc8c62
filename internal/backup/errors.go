package backup

import (
	"errors"
	"fmt"
)

// BackupError represents errors that occur during backup, restore and sweep operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	ErrorTypeDuplicateOperation    BackupErrorType = "DUPLICATE_OPERATION"
	ErrorTypeInvalidFormat         BackupErrorType = "INVALID_FORMAT"
	ErrorTypeBackendUnavailable    BackupErrorType = "BACKEND_UNAVAILABLE"
	ErrorTypePartialCleanupFailure BackupErrorType = "PARTIAL_CLEANUP_FAILURE"
	ErrorTypeValidation            BackupErrorType = "VALIDATION_ERROR"
	ErrorTypeConfiguration         BackupErrorType = "CONFIGURATION_ERROR"
	ErrorTypeNotFound              BackupErrorType = "NOT_FOUND_ERROR"
	ErrorTypeCompression           BackupErrorType = "COMPRESSION_ERROR"
	ErrorTypeEncryption            BackupErrorType = "ENCRYPTION_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDuplicateOperationError(message string) *BackupError {
	return NewBackupError(ErrorTypeDuplicateOperation, message, nil)
}

func NewInvalidFormatError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeInvalidFormat, message, cause)
}

func NewBackendUnavailableError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeBackendUnavailable, message, cause)
}

func NewPartialCleanupError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypePartialCleanupFailure, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeValidation, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeNotFound, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(ErrorTypeEncryption, message, cause)
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// IsErrorType reports whether err is, or wraps, a BackupError of the given type
func IsErrorType(err error, errorType BackupErrorType) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type == errorType
	}
	return false
}

// IsRetryable determines if an error is worth retrying by the caller
func IsRetryable(err error) bool {
	return IsErrorType(err, ErrorTypeBackendUnavailable)
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	var backupErr *BackupError
	if !errors.As(err, &backupErr) {
		return false
	}
	switch backupErr.Type {
	case ErrorTypeInvalidFormat, ErrorTypeValidation, ErrorTypeConfiguration,
		ErrorTypeNotFound, ErrorTypeEncryption:
		return true
	default:
		return false
	}
}
