// Package dispatch fans scrape tasks out to the external job runner and
// records the returned job identifiers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/metrics"
	"github.com/socialscope/scrapewatch/internal/session"
)

// Entity is one scrape target within a dispatch request.
type Entity struct {
	Name      string        `json:"name"`
	Platform  core.Platform `json:"platform"`
	TargetURL *string       `json:"target_url,omitempty"`
}

// Failure reports one entity whose submission was rejected or timed out.
type Failure struct {
	Entity   string        `json:"entity"`
	Platform core.Platform `json:"platform"`
	Reason   string        `json:"reason"`
	// Ambiguous marks a timed-out submission whose run may have started
	// anyway; the reconciler resolves it, callers must not assume failure.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Report summarizes one dispatch fan-out.
type Report struct {
	Dispatched int       `json:"dispatched"`
	Failed     []Failure `json:"failed,omitempty"`
}

// Dispatcher submits scrape configurations for tasks and drives the session
// through the dispatch-phase transitions.
type Dispatcher struct {
	tasks    core.TaskStore
	sessions *session.Service
	runner   core.RunnerClient
	clock    core.Clock
	idGen    core.IDGenerator
	logger   *zap.Logger
}

// New constructs a Dispatcher.
func New(
	tasks core.TaskStore,
	sessions *session.Service,
	runner core.RunnerClient,
	clock core.Clock,
	idGen core.IDGenerator,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tasks:    tasks,
		sessions: sessions,
		runner:   runner,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
	}
}

// DispatchSession creates a task row per entity and fans the submissions out
// to the job runner concurrently. There is no ordering requirement between
// tasks; each failure is reported per entity and never retried here.
func (d *Dispatcher) DispatchSession(ctx context.Context, sess core.Session, entities []Entity) (Report, error) {
	if len(entities) == 0 {
		return Report{}, fmt.Errorf("at least one entity required")
	}
	for _, e := range entities {
		if e.Name == "" || !e.Platform.Known() {
			return Report{}, fmt.Errorf("entity %q platform %q is invalid", e.Name, e.Platform)
		}
	}

	if sess.Status == core.SessionIdle {
		var err error
		if sess, err = d.sessions.Transition(ctx, sess.ID, core.SessionExtracting); err != nil {
			return Report{}, err
		}
		metrics.ObserveSessionTransition(string(core.SessionExtracting))
	}
	if sess.Status == core.SessionExtracting {
		var err error
		if sess, err = d.sessions.Transition(ctx, sess.ID, core.SessionScraping); err != nil {
			return Report{}, err
		}
		metrics.ObserveSessionTransition(string(core.SessionScraping))
	}
	if sess.Status != core.SessionScraping {
		return Report{}, fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, core.ErrInvalidTransition)
	}

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
	)
	for _, entity := range entities {
		wg.Add(1)
		go func(e Entity) {
			defer wg.Done()
			if err := d.dispatchEntity(ctx, sess.ID, e); err != nil {
				mu.Lock()
				report.Failed = append(report.Failed, Failure{
					Entity:    e.Name,
					Platform:  e.Platform,
					Reason:    err.Error(),
					Ambiguous: errors.Is(err, core.ErrSubmitTimeout),
				})
				mu.Unlock()
				return
			}
			mu.Lock()
			report.Dispatched++
			mu.Unlock()
		}(entity)
	}
	wg.Wait()
	return report, nil
}

func (d *Dispatcher) dispatchEntity(ctx context.Context, sessionID string, e Entity) error {
	task, err := d.ensureTask(ctx, sessionID, e)
	if err != nil {
		return err
	}
	if task.JobID != nil {
		// Already in flight from an earlier dispatch call; leave it alone.
		d.logger.Debug("task already dispatched",
			zap.String("task_id", task.ID),
			zap.String("job_id", *task.JobID),
		)
		return nil
	}
	return d.submit(ctx, task)
}

func (d *Dispatcher) ensureTask(ctx context.Context, sessionID string, e Entity) (core.Task, error) {
	key := core.TaskKey{SessionID: sessionID, EntityName: e.Name, Platform: e.Platform}
	task, err := d.tasks.FindByKey(ctx, key)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Task{}, fmt.Errorf("find task: %w", err)
	}

	id, err := d.idGen.NewID()
	if err != nil {
		return core.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task = core.Task{
		ID:         id,
		SessionID:  sessionID,
		EntityName: e.Name,
		Platform:   e.Platform,
		TargetURL:  e.TargetURL,
		UpdatedAt:  d.clock.Now(),
	}
	if err := d.tasks.Create(ctx, task); err != nil {
		return core.Task{}, fmt.Errorf("create task: %w", err)
	}
	// Create is a no-op when a concurrent caller won the insert; re-read so
	// the jobId check below sees the winner's row.
	task, err = d.tasks.FindByKey(ctx, key)
	if err != nil {
		return core.Task{}, fmt.Errorf("reload task: %w", err)
	}
	return task, nil
}

func (d *Dispatcher) submit(ctx context.Context, task core.Task) error {
	jobID, err := d.runner.Submit(ctx, core.SubmitRequest{
		Platform:   task.Platform,
		EntityName: task.EntityName,
		TargetURL:  task.TargetURL,
	})
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, core.ErrSubmitTimeout) {
			outcome = "timeout"
		}
		metrics.ObserveDispatch(string(task.Platform), outcome)
		d.logger.Warn("submission failed",
			zap.String("task_id", task.ID),
			zap.String("platform", string(task.Platform)),
			zap.Error(err),
		)
		return err
	}

	if err := d.tasks.UpsertDispatch(ctx, task.ID, jobID, d.clock.Now()); err != nil {
		if errors.Is(err, core.ErrAlreadyDispatched) {
			// A concurrent dispatch won; its jobId stays live and this run's
			// eventual webhook will be dropped by the jobId match.
			d.logger.Warn("concurrent dispatch detected, keeping existing job",
				zap.String("task_id", task.ID),
				zap.String("orphaned_job_id", jobID),
			)
			metrics.ObserveDispatch(string(task.Platform), "duplicate")
			return nil
		}
		return fmt.Errorf("record dispatch: %w", err)
	}

	metrics.ObserveDispatch(string(task.Platform), "submitted")
	d.logger.Info("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("platform", string(task.Platform)),
		zap.String("entity", task.EntityName),
		zap.String("job_id", jobID),
	)
	return nil
}

// Redispatch clears a task's job state atomically and submits a fresh run.
// It is the explicit retry path for failed or needs-intervention sessions and
// re-enters the scraping phase when needed.
func (d *Dispatcher) Redispatch(ctx context.Context, sess core.Session, key core.TaskKey) (string, error) {
	task, err := d.tasks.FindByKey(ctx, key)
	if err != nil {
		return "", fmt.Errorf("find task: %w", err)
	}

	if sess.Status != core.SessionScraping {
		if _, err := d.sessions.Transition(ctx, sess.ID, core.SessionScraping); err != nil {
			return "", err
		}
		metrics.ObserveSessionTransition(string(core.SessionScraping))
	}

	if err := d.tasks.ClearForRedispatch(ctx, task.ID, d.clock.Now()); err != nil {
		return "", fmt.Errorf("clear task: %w", err)
	}

	jobID, err := d.runner.Submit(ctx, core.SubmitRequest{
		Platform:   task.Platform,
		EntityName: task.EntityName,
		TargetURL:  task.TargetURL,
	})
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, core.ErrSubmitTimeout) {
			outcome = "timeout"
		}
		metrics.ObserveDispatch(string(task.Platform), outcome)
		return "", err
	}
	if err := d.tasks.UpsertDispatch(ctx, task.ID, jobID, d.clock.Now()); err != nil {
		return "", fmt.Errorf("record redispatch: %w", err)
	}
	metrics.ObserveDispatch(string(task.Platform), "redispatched")
	d.logger.Info("task redispatched",
		zap.String("task_id", task.ID),
		zap.String("job_id", jobID),
	)
	return jobID, nil
}
