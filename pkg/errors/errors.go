package errors

import (
	"errors"
	"fmt"
)

// Common pipeline errors
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrMissingSecret        = errors.New("missing required secret")
	ErrInvalidRegistry      = errors.New("invalid metric registry")

	// Ingestion errors
	ErrFileNotFound    = errors.New("input file not found")
	ErrEmptyInput      = errors.New("input file is empty")
	ErrMalformedInput  = errors.New("malformed input data")
	ErrSchemaViolation = errors.New("input schema violation")

	// Transformation errors
	ErrColumnNotFound = errors.New("column not found")
	ErrCoercionFailed = errors.New("column type coercion failed")
	ErrMaskingFailed  = errors.New("PII masking failed")

	// Calculation errors
	ErrMissingColumns     = errors.New("required columns missing")
	ErrMetricNotFound     = errors.New("metric not found")
	ErrDependencyNotReady = errors.New("metric dependency not computed")

	// Sink errors
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrSinkWriteFailed = errors.New("sink write failed")
	ErrSinkTimeout     = errors.New("sink write timeout")

	// Persistence errors
	ErrManifestWriteFailed = errors.New("manifest write failed")
	ErrManifestNotFound    = errors.New("manifest not found")

	// Run errors
	ErrRunCancelled = errors.New("run cancelled")
)

// ErrorType categorizes pipeline errors by the concern that raised them.
type ErrorType string

const (
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeIngestion      ErrorType = "ingestion"
	ErrorTypeTransformation ErrorType = "transformation"
	ErrorTypeCalculation    ErrorType = "calculation"
	ErrorTypeSink           ErrorType = "sink"
	ErrorTypePersistence    ErrorType = "persistence"
	ErrorTypeInternal       ErrorType = "internal"
)

// AppError represents a pipeline error with additional context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new pipeline error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// WrapError wraps an existing error with pipeline context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: isRetryable(err),
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewIngestionError creates an ingestion error
func NewIngestionError(code, message string) *AppError {
	return NewAppError(ErrorTypeIngestion, code, message)
}

// NewTransformationError creates a transformation error
func NewTransformationError(code, message string) *AppError {
	return NewAppError(ErrorTypeTransformation, code, message)
}

// NewCalculationError creates a calculation error
func NewCalculationError(code, message string) *AppError {
	return NewAppError(ErrorTypeCalculation, code, message)
}

// NewSinkError creates a sink error; sink failures are retryable by default
func NewSinkError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeSink,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapSinkError wraps a transport error from a sink write. Sink transport
// failures are treated as transient and retryable.
func WrapSinkError(err error, code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeSink,
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// NewPersistenceError creates a local persistence error
func NewPersistenceError(code, message string) *AppError {
	return NewAppError(ErrorTypePersistence, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// Terminal reports whether an error must halt the run. Configuration,
// ingestion, transformation and persistence errors halt; calculation and
// sink errors are captured on the relevant entity instead.
func Terminal(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Type {
	case ErrorTypeCalculation, ErrorTypeSink:
		return false
	default:
		return true
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for plain errors
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrSinkTimeout):
		return true
	case errors.Is(err, ErrSinkUnavailable):
		return true
	case errors.Is(err, ErrSinkWriteFailed):
		return true
	default:
		return false
	}
}

// Error codes for different error scenarios
const (
	// Configuration error codes
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeMissingSecret  = "MISSING_SECRET"
	CodeInvalidMetric  = "INVALID_METRIC"
	CodeCyclicRegistry = "CYCLIC_REGISTRY"

	// Ingestion error codes
	CodeFileNotFound   = "FILE_NOT_FOUND"
	CodeEmptyInput     = "EMPTY_INPUT"
	CodeMalformedInput = "MALFORMED_INPUT"
	CodeSchemaError    = "SCHEMA_ERROR"

	// Transformation error codes
	CodeColumnNotFound = "COLUMN_NOT_FOUND"
	CodeCoercionFailed = "COERCION_FAILED"
	CodeMaskingFailed  = "MASKING_FAILED"

	// Calculation error codes
	CodeMissingColumns    = "MISSING_COLUMNS"
	CodeCalculatorFailed  = "CALCULATOR_FAILED"
	CodeDependencyMissing = "DEPENDENCY_MISSING"

	// Sink error codes
	CodeSinkWriteFailed = "SINK_WRITE_FAILED"
	CodeSinkTimeout     = "SINK_TIMEOUT"
	CodeSinkDisabled    = "SINK_DISABLED"

	// Persistence error codes
	CodeManifestWrite = "MANIFEST_WRITE_FAILED"
	CodeManifestRead  = "MANIFEST_READ_FAILED"

	// Run error codes
	CodeRunCancelled = "RUN_CANCELLED"
)
