package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown job or batch id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports an invalid state transition, such as cancelling a
// terminal job or reading a result before completion.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError is a transient capability failure. The worker retries
// these before giving up.
type ExternalServiceError struct {
	Service string
	Cause   error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s unavailable: %v", e.Service, e.Cause)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Cause
}

func NewExternalServiceError(service string, cause error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Cause: cause}
}

// ProcessingError is a permanent step failure. It is recorded on the job and
// never retried.
type ProcessingError struct {
	Step    string
	Message string
}

func (e *ProcessingError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %s failed: %s", e.Step, e.Message)
	}
	return e.Message
}

func NewProcessingError(step, message string) *ProcessingError {
	return &ProcessingError{Step: step, Message: message}
}

// RateLimitError signals admission throttling. Jobs are still accepted, the
// caller is only told to expect a longer wait.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsTransient reports whether a step failure should be retried.
func IsTransient(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}

// Code maps an error to the wire-level error code recorded on failed jobs.
func Code(err error) string {
	switch {
	case IsValidation(err):
		return "VALIDATION_ERROR"
	case IsNotFound(err):
		return "NOT_FOUND"
	case IsConflict(err):
		return "CONFLICT"
	case IsTransient(err):
		return "EXTERNAL_SERVICE_ERROR"
	default:
		var pe *ProcessingError
		if errors.As(err, &pe) {
			return "PROCESSING_ERROR"
		}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			return "RATE_LIMIT_EXCEEDED"
		}
		return "INTERNAL_ERROR"
	}
}
