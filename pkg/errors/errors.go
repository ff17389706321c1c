package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Validation errors
	ErrInvalidInput        = errors.New("invalid input data")
	ErrInvalidModelType    = errors.New("invalid model type")
	ErrInvalidStage        = errors.New("invalid lifecycle stage")
	ErrInvalidStrategy     = errors.New("invalid deployment strategy")
	ErrInvalidTrafficSplit = errors.New("invalid traffic split: must be between 0 and 100")
	ErrInvalidThreshold    = errors.New("invalid threshold")
	ErrNoFeatures          = errors.New("no features specified")

	// Security errors
	ErrSecurityRisk     = errors.New("input rejected: security risk score too high")
	ErrAdversarialInput = errors.New("input rejected: adversarial sample detected")

	// Registry errors
	ErrModelNotFound      = errors.New("model not found")
	ErrVersionNotFound    = errors.New("model version not found")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrTestNotFound       = errors.New("A/B test not found")
	ErrDuplicateVersion   = errors.New("model version already exists")
	ErrDuplicateTest      = errors.New("A/B test already exists")
	ErrModelNotReady      = errors.New("model is not ready for serving")
	ErrInvalidTransition  = errors.New("stage transition not allowed")

	// Serving errors
	ErrModelLoadFailed = errors.New("failed to load model artifact")
	ErrInferenceFailed = errors.New("inference failed")
	ErrTransformFailed = errors.New("feature transform failed")

	// Deployment errors
	ErrDeploymentFailed   = errors.New("deployment failed")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrRollbackExhausted  = errors.New("rollback attempts exhausted")

	// A/B test errors
	ErrInsufficientSamples = errors.New("insufficient samples to determine winner")
	ErrTestNotRunning      = errors.New("A/B test is not running")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrConflict                = errors.New("conditional update conflict")
	ErrDataNotFound            = errors.New("data not found")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Internal errors
	ErrInternal       = errors.New("internal error")
	ErrUnavailable    = errors.New("service unavailable")
	ErrNotImplemented = errors.New("not implemented")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeState      ErrorType = "invalid_state"
	ErrorTypeDuplicate  ErrorType = "duplicate"
	ErrorTypeModelLoad  ErrorType = "model_load"
	ErrorTypeDeployment ErrorType = "deployment"
	ErrorTypeSamples    ErrorType = "insufficient_samples"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
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
		return errors.Is(e.Cause, target)
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

// WithCause attaches an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewSecurityRiskError creates an error for input rejected by risk scoring
func NewSecurityRiskError(riskScore float64) *AppError {
	return NewAppError(ErrorTypeSecurity, CodeSecurityRisk, "input rejected by security validation").
		WithContext("risk_score", riskScore)
}

// NewAdversarialInputError creates an error for rejected adversarial input
func NewAdversarialInputError(indicators []string) *AppError {
	return NewAppError(ErrorTypeSecurity, CodeAdversarialInput, "adversarial input detected").
		WithContext("indicators", indicators)
}

// NewNotFoundError creates a not-found error for the named entity
func NewNotFoundError(entity, id string) *AppError {
	e := NewAppError(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", entity))
	return e.WithContext("id", id)
}

// NewInvalidStateError creates an error for operations invalid in the
// entity's current lifecycle state
func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrorTypeState, CodeInvalidState, message)
}

// NewDuplicateVersionError creates an error for duplicate version registration
func NewDuplicateVersionError(modelID, version string) *AppError {
	return NewAppError(ErrorTypeDuplicate, CodeDuplicateVersion, "model version already exists").
		WithContext("model_id", modelID).
		WithContext("version", version)
}

// NewDuplicateTestError creates an error for duplicate A/B test creation
func NewDuplicateTestError(testID string) *AppError {
	return NewAppError(ErrorTypeDuplicate, CodeDuplicateTest, "A/B test already exists").
		WithContext("test_id", testID)
}

// NewModelLoadError creates an error for artifact load failures
func NewModelLoadError(err error, artifactRef string) *AppError {
	return WrapError(err, ErrorTypeModelLoad, CodeModelLoadFailed, "failed to load model artifact").
		WithContext("artifact_ref", artifactRef)
}

// NewDeploymentFailure creates a terminal deployment failure error
func NewDeploymentFailure(deploymentID, message string) *AppError {
	return NewAppError(ErrorTypeDeployment, CodeDeploymentFailed, message).
		WithContext("deployment_id", deploymentID)
}

// NewInsufficientSamplesError creates a soft error for stopping an A/B test
// before both arms reached their minimum sample counts
func NewInsufficientSamplesError(testID string, samplesA, samplesB, minSamples int) *AppError {
	return NewAppError(ErrorTypeSamples, CodeInsufficientSamples, "insufficient samples to determine winner").
		WithContext("test_id", testID).
		WithContext("samples_a", samplesA).
		WithContext("samples_b", samplesB).
		WithContext("min_samples", minSamples)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewConflictError creates a conditional-update conflict error
func NewConflictError(entity, id string) *AppError {
	e := &AppError{
		Type:       ErrorTypeStorage,
		Code:       CodeConflict,
		Message:    fmt.Sprintf("conditional update conflict on %s", entity),
		Cause:      ErrConflict,
		Retryable:  true,
		HTTPStatus: 409,
	}
	return e.WithContext("id", id)
}

// NewAuthError creates an authorization error
func NewAuthError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuth,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: 403,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeNotFound
	}
	return errors.Is(err, ErrDataNotFound)
}

// IsConflict reports whether err is a conditional-update conflict
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeConflict
	}
	return errors.Is(err, ErrConflict)
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation, ErrorTypeSecurity:
		return 400
	case ErrorTypeAuth:
		return 403
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeState, ErrorTypeDuplicate, ErrorTypeSamples:
		return 409
	case ErrorTypeModelLoad, ErrorTypeDeployment, ErrorTypeInternal:
		return 500
	case ErrorTypeStorage:
		return 503
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrConflict):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput    = "INVALID_INPUT"
	CodeMissingField    = "MISSING_FIELD"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodeInvalidStrategy = "INVALID_STRATEGY"

	// Security error codes
	CodeSecurityRisk     = "SECURITY_RISK"
	CodeAdversarialInput = "ADVERSARIAL_INPUT"

	// Registry error codes
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeDuplicateVersion  = "DUPLICATE_VERSION"
	CodeDuplicateTest     = "DUPLICATE_TEST"
	CodeInvalidTransition = "INVALID_TRANSITION"

	// Serving error codes
	CodeModelLoadFailed = "MODEL_LOAD_FAILED"
	CodeInferenceFailed = "INFERENCE_FAILED"
	CodeTransformFailed = "TRANSFORM_FAILED"

	// Deployment error codes
	CodeDeploymentFailed  = "DEPLOYMENT_FAILED"
	CodeRollbackExhausted = "ROLLBACK_EXHAUSTED"

	// A/B test error codes
	CodeInsufficientSamples = "INSUFFICIENT_SAMPLES"
	CodeTestNotRunning      = "TEST_NOT_RUNNING"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeConflict         = "CONFLICT"
	CodeDataNotFound     = "DATA_NOT_FOUND"

	// Authorization error codes
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Internal error codes
	CodeInternalError      = "INTERNAL_ERROR"
	CodeNotImplemented     = "NOT_IMPLEMENTED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
