// Package core defines domain types shared across subsystems.
package core

import "time"

// Platform identifies a social-media platform targeted by a scrape task.
type Platform string

// Platforms with a registered request builder and extraction paths.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
)

// KnownPlatforms lists every platform in dispatch order.
var KnownPlatforms = []Platform{
	PlatformYouTube,
	PlatformInstagram,
	PlatformTikTok,
	PlatformTwitter,
	PlatformLinkedIn,
}

// Known reports whether p has a registered platform table.
func (p Platform) Known() bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// SessionStatus represents the lifecycle state of a research session.
type SessionStatus string

// Session status values persisted in the session store. Transitions are
// monotonic forward; "failed" is absorbing from any non-terminal status.
const (
	SessionIdle              SessionStatus = "idle"
	SessionExtracting        SessionStatus = "extracting"
	SessionScraping          SessionStatus = "scraping"
	SessionReadyForNextPhase SessionStatus = "ready_for_next_phase"
	SessionNeedsIntervention SessionStatus = "needs_user_intervention"
	SessionGenerating        SessionStatus = "generating"
	SessionCompleted         SessionStatus = "completed"
	SessionFailed            SessionStatus = "failed"
)

// Session is one research batch: a subject, a region, and an aggregate status
// covering all of its scrape tasks.
type Session struct {
	ID          string        `json:"id"`
	SubjectName string        `json:"subject_name"`
	Region      string        `json:"region"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TaskKey is the composite identity of a task within a session.
type TaskKey struct {
	SessionID  string
	EntityName string
	Platform   Platform
}

// Task is one (entity, platform) scrape unit within a session. JobID is the
// correctness anchor: result writes are accepted only while it matches the
// task's currently live job.
type Task struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	EntityName    string    `json:"entity_name"`
	Platform      Platform  `json:"platform"`
	TargetURL     *string   `json:"target_url,omitempty"`
	JobID         *string   `json:"job_id,omitempty"`
	DatasetHandle *string   `json:"dataset_handle,omitempty"`
	FollowerCount *int64    `json:"follower_count,omitempty"`
	RawDataset    []byte    `json:"-"`
	AuditURI      *string   `json:"audit_uri,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the composite identity of the task.
func (t Task) Key() TaskKey {
	return TaskKey{SessionID: t.SessionID, EntityName: t.EntityName, Platform: t.Platform}
}

// Resolved reports whether a validated result has been applied.
func (t Task) Resolved() bool {
	return t.FollowerCount != nil
}

// RunnerEventKind classifies an inbound job-runner notification.
type RunnerEventKind string

// Event kinds emitted by the job runner.
const (
	EventRunSucceeded RunnerEventKind = "ACTOR.RUN.SUCCEEDED"
	EventRunFailed    RunnerEventKind = "ACTOR.RUN.FAILED"
)

// RunnerEvent is the transient webhook payload from the job runner. It is
// never persisted; idempotency is handled by the per-task jobId match plus an
// in-process dedup cache.
type RunnerEvent struct {
	Kind          RunnerEventKind
	JobID         string
	DatasetHandle string
}

// ResultUpdate carries the fields written back to a task when a webhook
// result is applied. FollowerCount stays nil when the dataset matched no
// known extraction path ("ran, no usable signal").
type ResultUpdate struct {
	FollowerCount *int64
	TargetURL     *string
	DatasetHandle string
	RawDataset    []byte
	AuditURI      *string
}

// SubmitRequest captures everything the runner client needs to start one
// scrape job.
type SubmitRequest struct {
	Platform   Platform
	EntityName string
	TargetURL  *string
}
