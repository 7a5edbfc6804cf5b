package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
	memorystorage "github.com/socialscope/scrapewatch/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%03d", g.n), nil
}

func newTestService() (*Service, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(memorystorage.NewSessionStore(), clock, &seqIDGen{}, zap.NewNop()), clock
}

func TestService_EnsureCreatesThenReuses(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()

	first, reused, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, core.SessionIdle, first.Status)
	assert.Equal(t, "Acme Corp", first.SubjectName)

	second, reused, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID, second.ID)

	// A different subject gets its own session.
	other, reused, err := svc.Ensure(ctx, "Globex", "US")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestService_EnsureDoesNotReuseActiveSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()

	first, _, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, first.ID, core.SessionExtracting)
	require.NoError(t, err)

	second, reused, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestService_TransitionEnforcesStateMachine(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService()
	ctx := context.Background()

	sess, _, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute)
	got, err := svc.Transition(ctx, sess.ID, core.SessionExtracting)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExtracting, got.Status)
	assert.Equal(t, clock.now, got.UpdatedAt)

	// Skipping a phase is rejected.
	_, err = svc.Transition(ctx, sess.ID, core.SessionGenerating)
	require.ErrorIs(t, err, core.ErrInvalidTransition)

	// Transition to the current status is a no-op, not an error.
	same, err := svc.Transition(ctx, sess.ID, core.SessionExtracting)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExtracting, same.Status)
}

func TestService_TransitionMissingSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	_, err := svc.Transition(context.Background(), "no-such-id", core.SessionExtracting)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_FailAbsorbsAndBlocksFromCompleted(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()

	sess, _, err := svc.Ensure(ctx, "Acme Corp", "US")
	require.NoError(t, err)
	for _, to := range []core.SessionStatus{
		core.SessionExtracting,
		core.SessionScraping,
		core.SessionReadyForNextPhase,
		core.SessionGenerating,
		core.SessionCompleted,
	} {
		_, err = svc.Transition(ctx, sess.ID, to)
		require.NoError(t, err)
	}

	_, err = svc.Fail(ctx, sess.ID)
	require.ErrorIs(t, err, core.ErrInvalidTransition, "completed is terminal")
}
