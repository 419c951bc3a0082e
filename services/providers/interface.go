package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/classifier-control-plane/models"
)

// Backend is a remote visual recognition service. Every call is made with
// the credential set that owns the classifier.
type Backend interface {
	// Name returns the backend name (e.g., "watson")
	Name() string

	// CreateClassifier uploads one archive per label and starts training
	CreateClassifier(ctx context.Context, creds *models.Credentials, req *CreateClassifierRequest) (*ClassifierInfo, error)

	// GetClassifier fetches the remote state of a classifier
	GetClassifier(ctx context.Context, creds *models.Credentials, classifierID string) (*ClassifierInfo, error)

	// DeleteClassifier removes a classifier from the remote service
	DeleteClassifier(ctx context.Context, creds *models.Credentials, classifierID string) error
}

// CreateClassifierRequest describes a training submission
type CreateClassifierRequest struct {
	// Name of the classifier, the project name
	Name string

	// Examples maps each label to the path of its zip archive of positive examples
	Examples map[string]string
}

// ClassifierInfo is the remote view of a classifier
type ClassifierInfo struct {
	ClassifierID string
	Name         string
	Owner        string
	Status       string
	Created      time.Time
	Classes      []string
}

// ProviderError represents an error returned by a remote backend
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the remote error code or identifier
	Code string

	// Message is the remote error description
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Body is the raw response payload, kept for logging and alerts only
	Body []byte

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}

// IsNotFound reports whether the backend answered 404
func IsNotFound(err error) bool {
	provErr, ok := AsProviderError(err)
	return ok && provErr.StatusCode == http.StatusNotFound
}
