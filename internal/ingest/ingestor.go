// Package ingest processes asynchronous completion notifications from the
// job runner and applies their results to task rows idempotently.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/metrics"
	"github.com/socialscope/scrapewatch/internal/normalize"
)

// Outcome classifies how one webhook event was handled. Every outcome is
// acknowledged with a success response to the runner; only transport failures
// may trigger redelivery.
type Outcome string

// Webhook processing outcomes.
const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeNoSignal     Outcome = "no_usable_signal"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeIgnoredKind  Outcome = "ignored_kind"
	OutcomeNoTask       Outcome = "no_matching_task"
	OutcomeFetchFailed  Outcome = "dataset_fetch_failed"
	OutcomeStale        Outcome = "stale_job"
	OutcomeStoreFailed  Outcome = "store_failed"
	OutcomeInvalidEvent Outcome = "invalid_event"
)

// Ingestor handles runner webhook events. It is invoked concurrently and
// repeatedly for the same event and never propagates errors back to the
// runner-facing response.
type Ingestor struct {
	tasks      core.TaskStore
	runner     core.RunnerClient
	blobs      core.BlobStore
	dedup      *Dedup
	clock      core.Clock
	blobPrefix string
	logger     *zap.Logger
}

// New constructs an Ingestor. The dedup cache is injected so its lifetime is
// explicit (process start to process restart) and tests can control it.
func New(
	tasks core.TaskStore,
	runner core.RunnerClient,
	blobs core.BlobStore,
	dedup *Dedup,
	clock core.Clock,
	blobPrefix string,
	logger *zap.Logger,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		tasks:      tasks,
		runner:     runner,
		blobs:      blobs,
		dedup:      dedup,
		clock:      clock,
		blobPrefix: blobPrefix,
		logger:     logger,
	}
}

// HandleEvent runs the per-event state machine: discard non-success kinds,
// deduplicate, locate the task by jobId, fetch and normalize the dataset,
// and apply the result. It returns the outcome for diagnostics; the caller
// acknowledges the webhook regardless.
func (i *Ingestor) HandleEvent(ctx context.Context, evt core.RunnerEvent) Outcome {
	outcome := i.handle(ctx, evt)
	metrics.ObserveWebhookEvent(string(evt.Kind), string(outcome))
	return outcome
}

func (i *Ingestor) handle(ctx context.Context, evt core.RunnerEvent) Outcome {
	if evt.JobID == "" {
		i.logger.Warn("webhook event missing job id")
		return OutcomeInvalidEvent
	}

	if evt.Kind != core.EventRunSucceeded {
		// Failure events are logged but do not transition any task: the run
		// might still be reattempted by the runner, so failure is inferred
		// later by the reconciler's deadline logic.
		i.logger.Info("ignoring non-success runner event",
			zap.String("kind", string(evt.Kind)),
			zap.String("job_id", evt.JobID),
		)
		return OutcomeIgnoredKind
	}

	if i.dedup.Seen(evt.JobID, i.clock.Now()) {
		i.logger.Debug("duplicate webhook delivery", zap.String("job_id", evt.JobID))
		return OutcomeDuplicate
	}

	task, err := i.tasks.FindByJobID(ctx, evt.JobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Either the dispatch row is not durable yet or the job was not
			// created by this system. Acknowledge and move on.
			i.logger.Warn("no task matches webhook job id", zap.String("job_id", evt.JobID))
			return OutcomeNoTask
		}
		i.logger.Error("task lookup failed", zap.String("job_id", evt.JobID), zap.Error(err))
		return OutcomeStoreFailed
	}

	fetchStart := i.clock.Now()
	dataset, err := i.runner.FetchDataset(ctx, evt.DatasetHandle)
	metrics.ObserveDatasetFetch(i.clock.Now().Sub(fetchStart))
	if err != nil {
		// Acknowledge anyway; the task stays unresolved and the reconciler
		// will eventually flag it.
		i.logger.Warn("dataset fetch failed",
			zap.String("job_id", evt.JobID),
			zap.String("dataset_handle", evt.DatasetHandle),
			zap.Error(err),
		)
		return OutcomeFetchFailed
	}

	raw, err := marshalDataset(dataset)
	if err != nil {
		i.logger.Error("encode raw dataset failed", zap.String("job_id", evt.JobID), zap.Error(err))
		raw = nil
	}
	auditURI := i.archive(ctx, task, evt.JobID, raw)

	upd := core.ResultUpdate{
		DatasetHandle: evt.DatasetHandle,
		RawDataset:    raw,
		AuditURI:      auditURI,
	}

	outcome := OutcomeProcessed
	result, err := normalize.Normalize(task.Platform, dataset)
	switch {
	case err == nil:
		upd.FollowerCount = &result.FollowerCount
		if result.URL != "" {
			upd.TargetURL = &result.URL
		}
	case errors.Is(err, core.ErrUnrecognizedSchema):
		// Valid terminal state: the job ran but produced no usable signal.
		// The raw dataset is kept for audit and followerCount stays null.
		i.logger.Info("dataset matched no known schema",
			zap.String("job_id", evt.JobID),
			zap.String("platform", string(task.Platform)),
		)
		outcome = OutcomeNoSignal
	default:
		i.logger.Error("normalize failed", zap.String("job_id", evt.JobID), zap.Error(err))
		outcome = OutcomeNoSignal
	}

	if _, err := i.tasks.ApplyResult(ctx, evt.JobID, upd, i.clock.Now()); err != nil {
		if errors.Is(err, core.ErrStaleJob) {
			// The task was redispatched while this event was in flight; the
			// newer job owns the row now.
			i.logger.Info("dropping stale result", zap.String("job_id", evt.JobID))
			return OutcomeStale
		}
		// Persistence failures are swallowed with a diagnostic: surfacing
		// them to the runner would only cause redelivery storms.
		i.logger.Error("apply result failed", zap.String("job_id", evt.JobID), zap.Error(err))
		return OutcomeStoreFailed
	}

	// Mark only after the write is durable: a delivery that failed at the
	// fetch or store step must stay reprocessable when the runner redelivers.
	i.dedup.Mark(evt.JobID, i.clock.Now())

	i.logger.Info("webhook result applied",
		zap.String("job_id", evt.JobID),
		zap.String("task_id", task.ID),
		zap.String("platform", string(task.Platform)),
		zap.String("outcome", string(outcome)),
	)
	return outcome
}

// archive writes the raw dataset to the audit blob store. Best effort: a
// failed archive never blocks result application.
func (i *Ingestor) archive(ctx context.Context, task core.Task, jobID string, raw []byte) *string {
	if i.blobs == nil || len(raw) == 0 {
		return nil
	}
	path := fmt.Sprintf("%s/%s/%s/%s.json", i.blobPrefix, task.SessionID, task.ID, jobID)
	uri, err := i.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(raw))
	if err != nil {
		i.logger.Warn("raw dataset archive failed",
			zap.String("job_id", jobID),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil
	}
	return &uri
}

func marshalDataset(dataset []map[string]any) ([]byte, error) {
	raw, err := json.Marshal(dataset)
	if err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	return raw, nil
}
