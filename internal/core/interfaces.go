package core

import (
	"context"
	"io"
	"time"
)

// SessionStore persists session rows. Implementations must give
// read-your-writes consistency per row and support the conditional status
// update used by the state machine.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// FindIdleBySubject returns the idle session for a subject, if any, so
	// repeated creates reuse it instead of duplicating.
	FindIdleBySubject(ctx context.Context, subject string) (Session, error)
	// UpdateStatus performs a compare-and-set transition. It returns
	// ErrConflict when the row's status is no longer `from`, ErrNotFound when
	// the session does not exist.
	UpdateStatus(ctx context.Context, id string, from, to SessionStatus, at time.Time) error
}

// TaskStore persists task rows. All operations are idempotent and safe under
// concurrent callers for the same task.
type TaskStore interface {
	// Create inserts the task unless a row with the same
	// (session, entity, platform) key already exists; duplicates are a no-op.
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	FindByKey(ctx context.Context, key TaskKey) (Task, error)
	FindByJobID(ctx context.Context, jobID string) (Task, error)
	ListBySession(ctx context.Context, sessionID string) ([]Task, error)
	// UpsertDispatch records the jobId for a freshly dispatched task. Calling
	// twice with the identical jobId is a no-op; a differing live jobId is
	// ErrAlreadyDispatched.
	UpsertDispatch(ctx context.Context, taskID, jobID string, at time.Time) error
	// ApplyResult writes a normalized result, accepted only while jobID
	// matches the task's live jobId. A superseded jobId is ErrStaleJob and
	// leaves the row unchanged.
	ApplyResult(ctx context.Context, jobID string, upd ResultUpdate, at time.Time) (Task, error)
	// ClearForRedispatch atomically nulls jobId, datasetHandle, followerCount
	// and rawDataset together so a retry starts from a clean slate.
	ClearForRedispatch(ctx context.Context, taskID string, at time.Time) error
}

// RunnerClient talks to the external job-runner platform. The core treats it
// as a black box: submit a config, get a jobId, eventually a webhook arrives
// (or never does).
type RunnerClient interface {
	Submit(ctx context.Context, req SubmitRequest) (jobID string, err error)
	FetchDataset(ctx context.Context, handle string) ([]map[string]any, error)
}

// BlobStore archives raw dataset payloads for audit.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits terminal-status notifications for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates identifiers for new rows.
type IDGenerator interface {
	NewID() (string, error)
}
