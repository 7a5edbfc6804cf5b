package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/socialscope/scrapewatch/internal/core"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to core.SessionStatus }{
		{core.SessionIdle, core.SessionExtracting},
		{core.SessionExtracting, core.SessionScraping},
		{core.SessionScraping, core.SessionReadyForNextPhase},
		{core.SessionScraping, core.SessionNeedsIntervention},
		{core.SessionReadyForNextPhase, core.SessionGenerating},
		{core.SessionNeedsIntervention, core.SessionGenerating},
		{core.SessionNeedsIntervention, core.SessionScraping},
		{core.SessionGenerating, core.SessionCompleted},
		{core.SessionFailed, core.SessionScraping},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to core.SessionStatus }{
		{core.SessionIdle, core.SessionScraping},
		{core.SessionScraping, core.SessionIdle},
		{core.SessionScraping, core.SessionCompleted},
		{core.SessionReadyForNextPhase, core.SessionScraping},
		{core.SessionCompleted, core.SessionGenerating},
		{core.SessionCompleted, core.SessionFailed},
		{core.SessionGenerating, core.SessionScraping},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestFailedAbsorbsNonTerminalStates(t *testing.T) {
	t.Parallel()

	for _, from := range []core.SessionStatus{
		core.SessionIdle,
		core.SessionExtracting,
		core.SessionScraping,
		core.SessionReadyForNextPhase,
		core.SessionNeedsIntervention,
		core.SessionGenerating,
	} {
		assert.True(t, CanTransition(from, core.SessionFailed), "%s -> failed", from)
	}
	assert.False(t, CanTransition(core.SessionCompleted, core.SessionFailed))
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, Terminal(core.SessionCompleted))
	assert.True(t, Terminal(core.SessionFailed))
	assert.False(t, Terminal(core.SessionScraping))
	assert.False(t, Terminal(core.SessionNeedsIntervention))
}

func TestScrapingOutcome(t *testing.T) {
	t.Parallel()

	assert.True(t, ScrapingOutcome(core.SessionReadyForNextPhase))
	assert.True(t, ScrapingOutcome(core.SessionNeedsIntervention))
	assert.False(t, ScrapingOutcome(core.SessionScraping))
	assert.False(t, ScrapingOutcome(core.SessionCompleted))
}
