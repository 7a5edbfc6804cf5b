// Package reconcile decides, on demand, whether a session's scraping phase
// is complete given elapsed time and task-update recency. Some webhooks never
// arrive; the reconciler is what guarantees a session still resolves to a
// defined terminal outcome instead of staying "in progress" forever.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/metrics"
	"github.com/socialscope/scrapewatch/internal/session"
)

// Config tunes the liveness decision table.
type Config struct {
	// QuietPeriod: no task updated more recently than this means no more
	// webhooks are coming.
	QuietPeriod time.Duration
	// HardDeadline is the absolute ceiling regardless of activity.
	HardDeadline time.Duration
	// MinFollowerFloor is the plausibility floor a resolved count must clear
	// to be treated as valid data. A heuristic for error pages and wrong
	// accounts, not a hard guarantee.
	MinFollowerFloor int64
}

// Report is the diagnostic answer to one liveness poll.
type Report struct {
	Status                 core.SessionStatus `json:"status"`
	TotalTasks             int                `json:"total_tasks"`
	TasksWithData          int                `json:"tasks_with_data"`
	TasksWithValidData     int                `json:"tasks_with_valid_data"`
	SecondsElapsed         int64              `json:"seconds_elapsed"`
	SecondsSinceLastUpdate int64              `json:"seconds_since_last_update"`
	Transitioned           bool               `json:"transitioned"`
}

// Reconciler inspects a session's tasks and drives the state machine once the
// scraping phase can be declared over.
type Reconciler struct {
	tasks     core.TaskStore
	sessions  *session.Service
	publisher core.Publisher
	topic     string
	clock     core.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Reconciler. The publisher is optional; when set, terminal
// scraping verdicts are published to the configured topic.
func New(
	tasks core.TaskStore,
	sessions *session.Service,
	publisher core.Publisher,
	topic string,
	clock core.Clock,
	cfg Config,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		tasks:     tasks,
		sessions:  sessions,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Poll evaluates the decision table for one session. Errors surface to the
// polling caller as transient failures and never transition the session.
func (r *Reconciler) Poll(ctx context.Context, sessionID string) (Report, error) {
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}
	tasks, err := r.tasks.ListBySession(ctx, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("list tasks: %w", err)
	}

	now := r.clock.Now()
	report := r.buildReport(sess, tasks, now)

	if sess.Status != core.SessionScraping {
		// Nothing to decide; report the current status with diagnostics.
		return report, nil
	}

	verdict, done := r.decide(report)
	if !done {
		metrics.ObserveReconcileVerdict("in_progress")
		r.logger.Debug("scraping still in progress",
			zap.String("session_id", sessionID),
			zap.Int("total", report.TotalTasks),
			zap.Int("with_data", report.TasksWithData),
			zap.Int64("seconds_elapsed", report.SecondsElapsed),
			zap.Int64("seconds_since_last_update", report.SecondsSinceLastUpdate),
		)
		return report, nil
	}

	if _, err := r.sessions.Transition(ctx, sessionID, verdict); err != nil {
		return Report{}, err
	}
	metrics.ObserveSessionTransition(string(verdict))
	metrics.ObserveReconcileVerdict(string(verdict))
	report.Status = verdict
	report.Transitioned = true

	r.logger.Info("scraping phase resolved",
		zap.String("session_id", sessionID),
		zap.String("verdict", string(verdict)),
		zap.Int("total", report.TotalTasks),
		zap.Int("with_data", report.TasksWithData),
		zap.Int("with_valid_data", report.TasksWithValidData),
	)
	r.notify(ctx, sess, report)
	return report, nil
}

func (r *Reconciler) buildReport(sess core.Session, tasks []core.Task, now time.Time) Report {
	report := Report{
		Status:         sess.Status,
		TotalTasks:     len(tasks),
		SecondsElapsed: int64(now.Sub(sess.UpdatedAt).Seconds()),
	}
	var lastUpdate time.Time
	for _, t := range tasks {
		if t.UpdatedAt.After(lastUpdate) {
			lastUpdate = t.UpdatedAt
		}
		if t.Resolved() {
			report.TasksWithData++
			if *t.FollowerCount > r.cfg.MinFollowerFloor {
				report.TasksWithValidData++
			}
		}
	}
	if lastUpdate.IsZero() {
		lastUpdate = sess.UpdatedAt
	}
	report.SecondsSinceLastUpdate = int64(now.Sub(lastUpdate).Seconds())
	return report
}

// decide evaluates the decision table in order: hard deadline overrides
// everything; then full resolution; then quiet period with at least one
// resolved task (partial data is actionable, treated as success).
func (r *Reconciler) decide(report Report) (core.SessionStatus, bool) {
	elapsed := time.Duration(report.SecondsElapsed) * time.Second
	quiet := time.Duration(report.SecondsSinceLastUpdate) * time.Second

	switch {
	case elapsed > r.cfg.HardDeadline:
		// Forced completion regardless of other signals.
	case report.TotalTasks > 0 && report.TasksWithData == report.TotalTasks:
		// Everything resolved.
	case quiet > r.cfg.QuietPeriod && report.TasksWithData > 0:
		// No more webhooks are coming; partial data is enough to proceed.
	default:
		return "", false
	}

	if report.TotalTasks > 0 && report.TasksWithValidData == report.TotalTasks {
		return core.SessionReadyForNextPhase, true
	}
	// Some tasks have no data or data under the floor; manual URL or result
	// correction is required before generation.
	return core.SessionNeedsIntervention, true
}

func (r *Reconciler) notify(ctx context.Context, sess core.Session, report Report) {
	if r.publisher == nil || r.topic == "" {
		return
	}
	payload := map[string]any{
		"session_id":            sess.ID,
		"subject_name":          sess.SubjectName,
		"status":                string(report.Status),
		"total_tasks":           report.TotalTasks,
		"tasks_with_data":       report.TasksWithData,
		"tasks_with_valid_data": report.TasksWithValidData,
		"decided_at":            r.clock.Now().Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.topic, payload); err != nil {
		// Notification is best effort; the session state is already durable.
		r.logger.Warn("terminal status publish failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}
