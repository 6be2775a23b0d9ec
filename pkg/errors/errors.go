// Package errors provides standardized error handling for the suiro control
// plane. It implements structured error types with proper wrapping following
// Go 1.20+ error handling practices. Errors cross component boundaries as
// values; nothing in the core panics on a classified failure.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// Pipeline-related errors
	ErrPipelineNotFound   = errors.New("pipeline not found")
	ErrPipelineInvalid    = errors.New("pipeline validation failed")
	ErrDuplicateJobID     = errors.New("duplicate job id")
	ErrDanglingDependency = errors.New("dependency references unknown job")
	ErrDependencyCycle    = errors.New("dependency cycle detected")

	// Session-related errors
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionTerminal    = errors.New("session is in a terminal state")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMissingParameter   = errors.New("required parameter missing")
	ErrJobNotFound        = errors.New("job not found in session")
	ErrDuplicateResult    = errors.New("job already reached a terminal status")
	ErrCheckpointConflict = errors.New("checkpoint sequence number collision")

	// Dispatch-related errors
	ErrExecutorUnavailable = errors.New("executor unavailable")
	ErrDispatchRejected    = errors.New("dispatch rejected")

	// Recovery-related errors
	ErrNothingToRecover = errors.New("session has no recoverable failures")
	ErrPlanIncomplete   = errors.New("recovery plan is incomplete")
)

// ValidationError reports a caller or configuration mistake. It is rejected
// synchronously and never persisted as a session.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// SessionError represents an error scoped to a specific session
type SessionError struct {
	SessionID string
	Operation string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: operation %s: %v", e.SessionID, e.Operation, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// PipelineError represents an error scoped to a specific pipeline
type PipelineError struct {
	PipelineID string
	Operation  string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: operation %s: %v", e.PipelineID, e.Operation, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// StoreError represents a persistence-layer failure
type StoreError struct {
	Backend   string
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: operation %s: %v", e.Backend, e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// DispatchError represents a failure to hand work to an external executor.
// Dispatch failures are treated as transient and retried per backoff policy.
type DispatchError struct {
	JobID       string
	OperationID string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %s operation %s: %v", e.JobID, e.OperationID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ConsistencyError signals a programming or integration bug: a write that
// conflicts with already-persisted state. The conflicting write is rejected
// and session state is left unchanged.
type ConsistencyError struct {
	SessionID string
	Sequence  int64
	Err       error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation on session %s at sequence %d: %v", e.SessionID, e.Sequence, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// Error wrapping constructors

func WrapSessionError(sessionID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{SessionID: sessionID, Operation: operation, Err: err}
}

func WrapPipelineError(pipelineID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{PipelineID: pipelineID, Operation: operation, Err: err}
}

func WrapStoreError(backend, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Backend: backend, Operation: operation, Err: err}
}

func WrapDispatchError(jobID, operationID string, err error) error {
	if err == nil {
		return nil
	}
	return &DispatchError{JobID: jobID, OperationID: operationID, Err: err}
}

func NewConsistencyError(sessionID string, sequence int64, err error) error {
	return &ConsistencyError{SessionID: sessionID, Sequence: sequence, Err: err}
}

// Type checking helpers

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

func IsPipelineError(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}

func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrJobNotFound)
}

// IsConflict reports whether err is a write-conflict condition: a checkpoint
// sequence collision, a duplicate terminal result, or a duplicate session.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCheckpointConflict) ||
		errors.Is(err, ErrDuplicateResult) ||
		errors.Is(err, ErrSessionExists)
}

// GetSessionID extracts the session ID from an error chain, if present.
func GetSessionID(err error) (string, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.SessionID, true
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ce.SessionID, true
	}
	return "", false
}

// GetJobID extracts the job ID from an error chain, if present.
func GetJobID(err error) (string, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.JobID, true
	}
	return "", false
}

// Re-exports so callers don't need to import both this package and the
// standard errors package.

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}
