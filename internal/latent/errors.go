package latent

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrUnknownKey       = errors.New("unknown key")
	ErrStaleSession     = errors.New("embedding session is no longer valid")
	ErrConcurrencyStale = errors.New("result superseded by a newer reconciliation")
	ErrService          = errors.New("collaborator call failed")
)

// UnknownRecordError reports a sequence index that is not in the registry.
type UnknownRecordError struct {
	Index int
}

func (e *UnknownRecordError) Error() string {
	return fmt.Sprintf("unknown record: sequence index %d", e.Index)
}

func (e *UnknownRecordError) Unwrap() error { return ErrUnknownKey }

// UnknownColumnError reports a metric column that has not been declared.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column: %q", e.Name)
}

func (e *UnknownColumnError) Unwrap() error { return ErrUnknownKey }

// DuplicateColumnError reports an attempt to declare a column twice.
type DuplicateColumnError struct {
	Name string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("duplicate column: %q", e.Name)
}

func (e *DuplicateColumnError) Unwrap() error { return ErrValidation }

// ServiceError describes a failed call to the embedding, mixture or
// optimisation service that is neither a validation nor a session error.
type ServiceError struct {
	Op     string
	Status int
	Body   string
	cause  error
}

// NewServiceError wraps cause (may be nil) as a ServiceError.
func NewServiceError(op string, status int, body string, cause error) *ServiceError {
	return &ServiceError{Op: op, Status: status, Body: body, cause: cause}
}

func (e *ServiceError) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.cause)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

// Is makes every ServiceError match ErrService.
func (e *ServiceError) Is(target error) bool { return target == ErrService }

func (e *ServiceError) Unwrap() error { return e.cause }
