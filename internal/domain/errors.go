package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed URLs or ids, before any work starts
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobNotFound is returned when an audit cannot be found
	ErrJobNotFound = errors.New("audit not found")

	// ErrPersistence wraps failures of the record store
	ErrPersistence = errors.New("persistence error")

	// ErrScheduleFailed is returned when a created job could not be handed to the pipeline
	ErrScheduleFailed = errors.New("failed to schedule audit")

	// ErrInvalidTransition is returned when an update would move a job out of a terminal status
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrJobAlreadyFinished is returned when a worker receives a job that already left pending
	ErrJobAlreadyFinished = errors.New("audit already finished")

	// ErrInvalidPayload is returned when a queue message is malformed
	ErrInvalidPayload = errors.New("invalid audit payload")

	// ErrPipelineFailed marks a job whose run ended in the failed status
	ErrPipelineFailed = errors.New("audit pipeline failed")
)

// CaptureErrorKind tags why a capture session failed.
type CaptureErrorKind string

const (
	CaptureNavigationFailed CaptureErrorKind = "navigation_failed"
	CaptureTimeout          CaptureErrorKind = "timeout"
	CaptureBrowserCrash     CaptureErrorKind = "browser_crash"
)

// CaptureError is returned by the capture engine for any failed step.
type CaptureError struct {
	Kind CaptureErrorKind
	Step string
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture %s during %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("capture %s during %s: %v", e.Kind, e.Step, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// NewCaptureError creates a tagged capture error
func NewCaptureError(kind CaptureErrorKind, step string, err error) error {
	return &CaptureError{Kind: kind, Step: step, Err: err}
}

// UploadError is returned by blob stores on transport or permission failures.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
