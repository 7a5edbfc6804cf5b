package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/socialscope/scrapewatch/internal/core"
)

// SessionStore implements core.SessionStore on Postgres.
type SessionStore struct {
	pool pool
}

// NewSessionStore constructs a store from an existing pool.
func NewSessionStore(pool pool) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: pool}, nil
}

const sessionColumns = "id, subject_name, region, status, created_at, updated_at"

// Create inserts a session row.
func (s *SessionStore) Create(ctx context.Context, sess core.Session) error {
	query := `
		INSERT INTO sessions (id, subject_name, region, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.SubjectName,
		sess.Region,
		string(sess.Status),
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (core.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return s.scanSession(s.pool.QueryRow(ctx, query, id))
}

// FindIdleBySubject returns the most recent idle session for a subject so
// repeated creates reuse it.
func (s *SessionStore) FindIdleBySubject(ctx context.Context, subject string) (core.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE subject_name = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanSession(s.pool.QueryRow(ctx, query, subject, string(core.SessionIdle)))
}

// UpdateStatus performs the compare-and-set transition. Zero rows affected
// means the expected status no longer holds (ErrConflict) or the session is
// missing (ErrNotFound).
func (s *SessionStore) UpdateStatus(ctx context.Context, id string, from, to core.SessionStatus, at time.Time) error {
	query := `
		UPDATE sessions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return core.ErrConflict
}

func (s *SessionStore) scanSession(row pgx.Row) (core.Session, error) {
	var sess core.Session
	var status string
	err := row.Scan(
		&sess.ID,
		&sess.SubjectName,
		&sess.Region,
		&status,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Session{}, core.ErrNotFound
		}
		return core.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = core.SessionStatus(status)
	return sess, nil
}
