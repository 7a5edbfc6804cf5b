package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/socialscope/scrapewatch/internal/core"
)

// TaskStore is an in-memory core.TaskStore. It enforces the same conditional
// update semantics as the Postgres store so tests exercise the real guards.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]core.Task
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]core.Task)}
}

// Create inserts a task row; a duplicate composite key is a no-op.
func (s *TaskStore) Create(_ context.Context, t core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Key() == t.Key() {
			return nil
		}
	}
	s.tasks[t.ID] = t
	return nil
}

// Get retrieves a task by id.
func (s *TaskStore) Get(_ context.Context, id string) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, core.ErrNotFound
	}
	return t, nil
}

// FindByKey retrieves a task by its composite identity.
func (s *TaskStore) FindByKey(_ context.Context, key core.TaskKey) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Key() == key {
			return t, nil
		}
	}
	return core.Task{}, core.ErrNotFound
}

// FindByJobID retrieves the task currently owning a job id.
func (s *TaskStore) FindByJobID(_ context.Context, jobID string) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.JobID != nil && *t.JobID == jobID {
			return t, nil
		}
	}
	return core.Task{}, core.ErrNotFound
}

// ListBySession returns all tasks for a session ordered by id.
func (s *TaskStore) ListBySession(_ context.Context, sessionID string) ([]core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []core.Task
	for _, t := range s.tasks {
		if t.SessionID == sessionID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UpsertDispatch records jobID on a task unless a different live job already
// owns it.
func (s *TaskStore) UpsertDispatch(_ context.Context, taskID, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return core.ErrNotFound
	}
	if t.JobID != nil && *t.JobID != jobID {
		return core.ErrAlreadyDispatched
	}
	t.JobID = &jobID
	t.UpdatedAt = at
	s.tasks[taskID] = t
	return nil
}

// ApplyResult writes a result for jobID. A job id that no longer owns any
// task is stale and the write is rejected.
func (s *TaskStore) ApplyResult(_ context.Context, jobID string, upd core.ResultUpdate, at time.Time) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.JobID == nil || *t.JobID != jobID {
			continue
		}
		t.FollowerCount = upd.FollowerCount
		if upd.TargetURL != nil {
			t.TargetURL = upd.TargetURL
		}
		handle := upd.DatasetHandle
		t.DatasetHandle = &handle
		t.RawDataset = upd.RawDataset
		if upd.AuditURI != nil {
			t.AuditURI = upd.AuditURI
		}
		t.UpdatedAt = at
		s.tasks[id] = t
		return t, nil
	}
	return core.Task{}, core.ErrStaleJob
}

// ClearForRedispatch nulls the job state so a retry starts clean.
func (s *TaskStore) ClearForRedispatch(_ context.Context, taskID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return core.ErrNotFound
	}
	t.JobID = nil
	t.DatasetHandle = nil
	t.FollowerCount = nil
	t.RawDataset = nil
	t.UpdatedAt = at
	s.tasks[taskID] = t
	return nil
}
