package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/socialscope/scrapewatch/internal/core"
)

// TaskStore implements core.TaskStore on Postgres. The dispatch-at-most-once
// and jobId-match invariants live in the conditional WHERE clauses here, so
// concurrent webhook deliveries and redispatches stay commutative or
// rejecting without any distributed lock.
type TaskStore struct {
	pool pool
}

// NewTaskStore constructs a store from an existing pool.
func NewTaskStore(pool pool) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

const taskColumns = `id, session_id, entity_name, platform, target_url, job_id,
	dataset_handle, follower_count, raw_dataset, audit_uri, updated_at`

// Create inserts a task row; a duplicate (session, entity, platform) key is a
// no-op so concurrent dispatch calls stay idempotent.
func (s *TaskStore) Create(ctx context.Context, t core.Task) error {
	query := `
		INSERT INTO tasks (id, session_id, entity_name, platform, target_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, entity_name, platform) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID,
		t.SessionID,
		t.EntityName,
		string(t.Platform),
		t.TargetURL,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (core.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return s.scanTask(s.pool.QueryRow(ctx, query, id))
}

// FindByKey retrieves a task by its composite identity.
func (s *TaskStore) FindByKey(ctx context.Context, key core.TaskKey) (core.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE session_id = $1 AND entity_name = $2 AND platform = $3
	`
	return s.scanTask(s.pool.QueryRow(ctx, query, key.SessionID, key.EntityName, string(key.Platform)))
}

// FindByJobID retrieves the task currently owning a job id.
func (s *TaskStore) FindByJobID(ctx context.Context, jobID string) (core.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE job_id = $1`
	return s.scanTask(s.pool.QueryRow(ctx, query, jobID))
}

// ListBySession returns all tasks for a session.
func (s *TaskStore) ListBySession(ctx context.Context, sessionID string) ([]core.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE session_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpsertDispatch records jobID on a task. The WHERE clause accepts only an
// unset or identical job id, which makes a repeat call with the same id a
// no-op and a differing live id ErrAlreadyDispatched.
func (s *TaskStore) UpsertDispatch(ctx context.Context, taskID, jobID string, at time.Time) error {
	query := `
		UPDATE tasks SET job_id = $1, updated_at = $2
		WHERE id = $3 AND (job_id IS NULL OR job_id = $1)
	`
	tag, err := s.pool.Exec(ctx, query, jobID, at, taskID)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, taskID); err != nil {
		return err
	}
	return core.ErrAlreadyDispatched
}

// ApplyResult writes a result for jobID. The WHERE clause is the staleness
// guard: a superseded job matches no row and the write is rejected with
// ErrStaleJob, leaving the row unchanged.
func (s *TaskStore) ApplyResult(ctx context.Context, jobID string, upd core.ResultUpdate, at time.Time) (core.Task, error) {
	query := `
		UPDATE tasks SET
			follower_count = $1,
			target_url = COALESCE($2, target_url),
			dataset_handle = $3,
			raw_dataset = $4,
			audit_uri = COALESCE($5, audit_uri),
			updated_at = $6
		WHERE job_id = $7
		RETURNING ` + taskColumns
	task, err := s.scanTask(s.pool.QueryRow(ctx, query,
		upd.FollowerCount,
		upd.TargetURL,
		upd.DatasetHandle,
		upd.RawDataset,
		upd.AuditURI,
		at,
		jobID,
	))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Task{}, core.ErrStaleJob
		}
		return core.Task{}, err
	}
	return task, nil
}

// ClearForRedispatch nulls the job state atomically so a retry starts clean.
func (s *TaskStore) ClearForRedispatch(ctx context.Context, taskID string, at time.Time) error {
	query := `
		UPDATE tasks SET
			job_id = NULL,
			dataset_handle = NULL,
			follower_count = NULL,
			raw_dataset = NULL,
			updated_at = $1
		WHERE id = $2
	`
	tag, err := s.pool.Exec(ctx, query, at, taskID)
	if err != nil {
		return fmt.Errorf("clear task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *TaskStore) scanTask(row pgx.Row) (core.Task, error) {
	var task core.Task
	var platform string
	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.EntityName,
		&platform,
		&task.TargetURL,
		&task.JobID,
		&task.DatasetHandle,
		&task.FollowerCount,
		&task.RawDataset,
		&task.AuditURI,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Task{}, core.ErrNotFound
		}
		return core.Task{}, fmt.Errorf("scan task: %w", err)
	}
	task.Platform = core.Platform(platform)
	return task, nil
}
