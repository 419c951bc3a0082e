package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// ErrorKind identifies a specific failure within the training and identity flows.
// The set is closed: every kind is declared here.
type ErrorKind string

const (
	KindNone ErrorKind = ""

	// Training submission
	KindInsufficientAPIKeys   ErrorKind = "insufficient_api_keys"
	KindAPIKeyRateLimited     ErrorKind = "api_key_rate_limited"
	KindAuthorizationRejected ErrorKind = "authorization_rejected"
	KindUnknown               ErrorKind = "unknown"

	// Identity token exchange
	KindInvalidAPIKey ErrorKind = "invalid_api_key"
	KindBlockedAPIKey ErrorKind = "blocked_api_key"
	KindRateLimited   ErrorKind = "rate_limited"

	// Training data assembly
	KindNotEnoughTrainingData ErrorKind = "not_enough_training_data"
	KindTooMuchTrainingData   ErrorKind = "too_much_training_data"
	KindUnsupportedImageType  ErrorKind = "unsupported_image_type"
	KindImageDownloadFailed   ErrorKind = "image_download_failed"
	KindArchiveTooLarge       ErrorKind = "archive_too_large"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Kind    ErrorKind
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Targets carrying a Kind match on Kind, others on Type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Kind != KindNone {
		return e.Kind == t.Kind
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewKindError creates a domain error of a specific kind
func NewKindError(errType ErrorType, kind ErrorKind, message string, err error) *DomainError {
	e := NewDomainError(errType, message, err)
	e.Kind = kind
	return e
}

// Domain error variables. The messages are shown to students and teachers.

var (
	// Not Found Errors
	ErrProjectNotFound     = NewDomainError(ErrorTypeNotFound, "project not found", nil)
	ErrClassifierNotFound  = NewDomainError(ErrorTypeNotFound, "model not found", nil)
	ErrCredentialsNotFound = NewDomainError(ErrorTypeNotFound, "credentials not found", nil)

	// Validation Errors
	ErrUnsupportedProject    = NewDomainError(ErrorTypeValidation, "only images projects can be trained here", nil)
	ErrNotEnoughTrainingData = NewKindError(ErrorTypeValidation, KindNotEnoughTrainingData,
		"not enough training data", nil)
	ErrTooMuchTrainingData = NewKindError(ErrorTypeValidation, KindTooMuchTrainingData,
		"number of images exceeds maximum", nil)
	ErrUnsupportedImageType = NewKindError(ErrorTypeValidation, KindUnsupportedImageType,
		"unsupported file type", nil)
	ErrImageDownloadFailed = NewKindError(ErrorTypeValidation, KindImageDownloadFailed,
		"unable to download image", nil)
	ErrArchiveTooLarge = NewKindError(ErrorTypeValidation, KindArchiveTooLarge,
		"training images exceed maximum size", nil)

	// Training submission errors
	ErrInsufficientAPIKeys = NewKindError(ErrorTypeConflict, KindInsufficientAPIKeys,
		"your class already has created their maximum allowed number of models", nil)
	ErrAPIKeyRateLimited = NewKindError(ErrorTypeRateLimit, KindAPIKeyRateLimited,
		"your class is making too many requests to the machine learning service, please try again later", nil)
	ErrAuthorizationRejected = NewKindError(ErrorTypeExternal, KindAuthorizationRejected,
		"the machine learning service rejected the credentials used by your class", nil)
	ErrUnknownTrainingFailure = NewKindError(ErrorTypeExternal, KindUnknown,
		"the machine learning service failed to train your model", nil)

	// Identity token exchange errors
	ErrInvalidAPIKey = NewKindError(ErrorTypeExternal, KindInvalidAPIKey,
		"the API key used by your class is not valid", nil)
	ErrBlockedAPIKey = NewKindError(ErrorTypeExternal, KindBlockedAPIKey,
		"the API key used by your class has been blocked", nil)
	ErrIdentityRateLimited = NewKindError(ErrorTypeRateLimit, KindRateLimited,
		"too many requests to the identity service, please try again later", nil)
	ErrIdentityUnknown = NewKindError(ErrorTypeExternal, KindUnknown,
		"unable to authenticate with the machine learning service", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Derive returns a copy of a sentinel error with its own cause and details,
// so callers never mutate the shared sentinel.
func Derive(sentinel *DomainError, err error) *DomainError {
	return NewKindError(sentinel.Type, sentinel.Kind, sentinel.Message, err)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorKind returns the ErrorKind of a domain error, or KindNone if not a domain error
func GetErrorKind(err error) ErrorKind {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindNone
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// UserMessage returns the message safe to show to end users
func UserMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ErrInternal.Message
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
