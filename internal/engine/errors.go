package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failed job run.
//
// RuntimeError includes structured fields for diagnostics: which job, which
// run, and what kind of failure.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Job names the job that failed.
	Job string

	// RunID identifies the failed run, if one was assigned.
	RunID string

	// Err is the underlying error, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRunFailed indicates the job returned an error.
	ErrCodeRunFailed RuntimeErrorCode = "RUN_FAILED"

	// ErrCodePanic indicates the job panicked and was recovered.
	ErrCodePanic RuntimeErrorCode = "PANIC"

	// ErrCodeUnknownJob indicates a job name that was never registered.
	ErrCodeUnknownJob RuntimeErrorCode = "UNKNOWN_JOB"

	// ErrCodeDuplicateJob indicates two jobs registered under one name.
	ErrCodeDuplicateJob RuntimeErrorCode = "DUPLICATE_JOB"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Job != "" {
		msg = fmt.Sprintf("%s (job=%s)", msg, e.Job)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsPanicError returns true if the error is a recovered panic.
// Uses errors.As to handle wrapped errors.
func IsPanicError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodePanic
	}
	return false
}

// IsUnknownJobError returns true if the error names an unregistered job.
func IsUnknownJobError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownJob
	}
	return false
}

// NewPanicError creates a RuntimeError for a recovered panic.
func NewPanicError(job string, recovered any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePanic,
		Message: fmt.Sprintf("job panicked: %v", recovered),
		Job:     job,
	}
}

// NewRunError wraps err as a failed run of job.
func NewRunError(job string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRunFailed,
		Message: "run failed",
		Job:     job,
		Err:     err,
	}
}
