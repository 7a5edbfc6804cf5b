package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound indicates the requested session or task row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyDispatched guards the dispatch-at-most-once invariant: a task
	// already carries a different live jobId.
	ErrAlreadyDispatched = errors.New("task already dispatched")

	// ErrStaleJob marks a result write whose jobId no longer matches the
	// task's live jobId; the task has since been redispatched.
	ErrStaleJob = errors.New("stale job result")

	// ErrUnrecognizedSchema means the dataset matched none of the platform's
	// known extraction paths. Not a failure: the job ran, no usable signal.
	ErrUnrecognizedSchema = errors.New("unrecognized dataset schema")

	// ErrSubmitTimeout marks a dispatch whose outcome is unknown: the job may
	// have started despite the client-side timeout. Resolved later by the
	// reconciler, never assumed failed.
	ErrSubmitTimeout = errors.New("job submission timed out")

	// ErrConflict indicates a conditional session-status update lost to a
	// concurrent transition.
	ErrConflict = errors.New("session status changed concurrently")

	// ErrInvalidTransition rejects a session status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// SubmissionError reports a job-runner rejection of a dispatch request. It is
// surfaced verbatim to the dispatching caller; retry policy belongs there.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job runner rejected submission: status %d: %s", e.StatusCode, e.Body)
}

// IsSubmissionError reports whether err wraps a SubmissionError.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
