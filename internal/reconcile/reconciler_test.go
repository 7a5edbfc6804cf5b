package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/metrics"
	memorypublisher "github.com/socialscope/scrapewatch/internal/publisher/memory"
	"github.com/socialscope/scrapewatch/internal/session"
	memorystorage "github.com/socialscope/scrapewatch/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%03d", g.n), nil
}

type fixture struct {
	sessions  *memorystorage.SessionStore
	tasks     *memorystorage.TaskStore
	publisher *memorypublisher.Publisher
	clock     *fakeClock
	rec       *Reconciler
}

var testConfig = Config{
	QuietPeriod:      120 * time.Second,
	HardDeadline:     600 * time.Second,
	MinFollowerFloor: 200,
}

func newFixture() *fixture {
	f := &fixture{
		sessions:  memorystorage.NewSessionStore(),
		tasks:     memorystorage.NewTaskStore(),
		publisher: memorypublisher.New(),
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	svc := session.NewService(f.sessions, f.clock, &seqIDGen{}, zap.NewNop())
	f.rec = New(f.tasks, svc, f.publisher, "scrape-verdicts", f.clock, testConfig, zap.NewNop())
	return f
}

// seedSession stores a scraping session whose phase started at the fixture's
// current clock time.
func (f *fixture) seedSession(t *testing.T) core.Session {
	t.Helper()
	sess := core.Session{
		ID:          "sess-1",
		SubjectName: "Acme Corp",
		Status:      core.SessionScraping,
		CreatedAt:   f.clock.now,
		UpdatedAt:   f.clock.now,
	}
	require.NoError(t, f.sessions.Create(context.Background(), sess))
	return sess
}

func (f *fixture) seedTask(t *testing.T, id string, count *int64, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, f.tasks.Create(context.Background(), core.Task{
		ID:            id,
		SessionID:     "sess-1",
		EntityName:    "entity-" + id,
		Platform:      core.PlatformInstagram,
		FollowerCount: count,
		UpdatedAt:     updatedAt,
	}))
}

func int64p(v int64) *int64 { return &v }

func TestPoll_InProgressWithinQuietPeriod(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", int64p(12000), start.Add(30*time.Second))
	f.seedTask(t, "t2", nil, start)

	f.clock.now = start.Add(60 * time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionScraping, report.Status)
	assert.False(t, report.Transitioned)
	assert.Equal(t, 2, report.TotalTasks)
	assert.Equal(t, 1, report.TasksWithData)
	assert.Empty(t, f.publisher.Messages())
}

func TestPoll_AllResolvedAndValid(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", int64p(12000), start.Add(10*time.Second))
	f.seedTask(t, "t2", int64p(3000), start.Add(20*time.Second))

	// Full resolution transitions immediately, no quiet period needed.
	f.clock.now = start.Add(25 * time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionReadyForNextPhase, report.Status)
	assert.True(t, report.Transitioned)
	assert.Equal(t, 2, report.TasksWithValidData)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "scrape-verdicts", msgs[0].Topic)
}

func TestPoll_QuietPeriodWithPartialDataBelowFloor(t *testing.T) {
	t.Parallel()

	// Five platforms dispatched, four webhooks arrived with counts
	// {12000, 500, 80, 3000}; with a floor of 200 the 80 is implausible and
	// one task never resolved, so the verdict asks for intervention.
	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", int64p(12000), start.Add(10*time.Second))
	f.seedTask(t, "t2", int64p(500), start.Add(20*time.Second))
	f.seedTask(t, "t3", int64p(80), start.Add(30*time.Second))
	f.seedTask(t, "t4", int64p(3000), start.Add(40*time.Second))
	f.seedTask(t, "t5", nil, start)

	f.clock.now = start.Add(40*time.Second + 121*time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionNeedsIntervention, report.Status)
	assert.True(t, report.Transitioned)
	assert.Equal(t, 5, report.TotalTasks)
	assert.Equal(t, 4, report.TasksWithData)
	assert.Equal(t, 3, report.TasksWithValidData)
}

func TestPoll_QuietPeriodWithNoDataKeepsWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", nil, start)

	// Quiet with zero resolved tasks is not actionable before the deadline.
	f.clock.now = start.Add(300 * time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionScraping, report.Status)
	assert.False(t, report.Transitioned)
}

func TestPoll_HardDeadlineForcesVerdict(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", nil, start)

	f.clock.now = start.Add(601 * time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionNeedsIntervention, report.Status)
	assert.True(t, report.Transitioned)
}

func TestPoll_FloorIsStrict(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedSession(t)
	start := f.clock.now
	f.seedTask(t, "t1", int64p(200), start.Add(time.Second))
	f.seedTask(t, "t2", int64p(201), start.Add(time.Second))

	f.clock.now = start.Add(10 * time.Second)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	// A count equal to the floor does not clear it.
	assert.Equal(t, 1, report.TasksWithValidData)
	assert.Equal(t, core.SessionNeedsIntervention, report.Status)
}

func TestPoll_NonScrapingSessionReportsOnly(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.sessions.Create(context.Background(), core.Session{
		ID:          "sess-1",
		SubjectName: "Acme Corp",
		Status:      core.SessionReadyForNextPhase,
		CreatedAt:   f.clock.now,
		UpdatedAt:   f.clock.now,
	}))
	f.seedTask(t, "t1", int64p(5000), f.clock.now)

	f.clock.now = f.clock.now.Add(time.Hour)
	report, err := f.rec.Poll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionReadyForNextPhase, report.Status)
	assert.False(t, report.Transitioned)
	assert.Empty(t, f.publisher.Messages())
}

func TestPoll_MissingSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.rec.Poll(context.Background(), "no-such-session")
	require.ErrorIs(t, err, core.ErrNotFound)
}
