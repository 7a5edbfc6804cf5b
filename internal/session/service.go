package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
)

// Service creates sessions and applies state-machine transitions against the
// session store.
type Service struct {
	sessions core.SessionStore
	clock    core.Clock
	idGen    core.IDGenerator
	logger   *zap.Logger
}

// NewService constructs a Service.
func NewService(sessions core.SessionStore, clock core.Clock, idGen core.IDGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions: sessions,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
	}
}

// Ensure returns the session for a subject, reusing an existing idle one so
// repeated client retries before scraping starts do not leave orphaned
// duplicates. The bool reports whether an existing session was reused.
func (s *Service) Ensure(ctx context.Context, subjectName, region string) (core.Session, bool, error) {
	existing, err := s.sessions.FindIdleBySubject(ctx, subjectName)
	if err == nil {
		s.logger.Debug("reusing idle session",
			zap.String("session_id", existing.ID),
			zap.String("subject", subjectName),
		)
		return existing, true, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Session{}, false, fmt.Errorf("find idle session: %w", err)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return core.Session{}, false, fmt.Errorf("generate session id: %w", err)
	}
	now := s.clock.Now()
	sess := core.Session{
		ID:          id,
		SubjectName: subjectName,
		Region:      region,
		Status:      core.SessionIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return core.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("subject", subjectName),
		zap.String("region", region),
	)
	return sess, false, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (core.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Transition moves a session from its current status to `to`, enforcing the
// state machine and the store's compare-and-set. The returned session
// reflects the new status.
func (s *Service) Transition(ctx context.Context, id string, to core.SessionStatus) (core.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	if sess.Status == to {
		return sess, nil
	}
	if !CanTransition(sess.Status, to) {
		return core.Session{}, fmt.Errorf("%s -> %s: %w", sess.Status, to, core.ErrInvalidTransition)
	}
	now := s.clock.Now()
	if err := s.sessions.UpdateStatus(ctx, id, sess.Status, to, now); err != nil {
		return core.Session{}, fmt.Errorf("update session status: %w", err)
	}
	s.logger.Info("session transitioned",
		zap.String("session_id", id),
		zap.String("from", string(sess.Status)),
		zap.String("to", string(to)),
	)
	sess.Status = to
	sess.UpdatedAt = now
	return sess, nil
}

// Fail moves a session into the absorbing failed state from any non-terminal
// status.
func (s *Service) Fail(ctx context.Context, id string) (core.Session, error) {
	return s.Transition(ctx, id, core.SessionFailed)
}
