package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrUnavailable    = errors.New("service unavailable")
	ErrUpstreamFailed = errors.New("upstream provider failed")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeQuota       ErrorType = "quota"
	ErrorTypeUpstream    ErrorType = "upstream"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeInternal    ErrorType = "internal"
)

// ServiceError is a structured error for credit and completion operations.
type ServiceError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "deduct", "complete")
	Identity   string // Identity the operation ran for, if any
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *ServiceError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ServiceError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrQuotaExceeded:
		return e.Type == ErrorTypeQuota
	case ErrUnavailable:
		return e.Type == ErrorTypeUnavailable
	case ErrUpstreamFailed:
		return e.Type == ErrorTypeUpstream
	}

	return errors.Is(e.Err, target)
}

// New creates a new ServiceError
func New(errorType ErrorType, op string, err error) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithIdentity adds the identity to the error
func (e *ServiceError) WithIdentity(identity string) *ServiceError {
	e.Identity = identity
	return e
}

// WithStatusCode records the upstream status code
func (e *ServiceError) WithStatusCode(code int) *ServiceError {
	e.StatusCode = code
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeUpstream, ErrorTypeUnavailable:
		return true
	default:
		return false
	}
}

// Helper functions

// Validation wraps a bad-request error
func Validation(op string, err error) error {
	return New(ErrorTypeValidation, op, err)
}

// Upstream wraps a completion provider failure
func Upstream(op string, err error, statusCode int) error {
	return New(ErrorTypeUpstream, op, err).WithStatusCode(statusCode)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Retryable
	}
	return errors.Is(err, ErrUnavailable)
}

// HTTPStatus maps an error to the status an API handler should return.
func HTTPStatus(err error) int {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError
	}
	switch svcErr.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeQuota:
		return http.StatusPaymentRequired
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code for an error.
func Code(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return string(svcErr.Type)
	}
	return string(ErrorTypeInternal)
}
