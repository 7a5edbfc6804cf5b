package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_SeenWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(10*time.Minute, 100)

	assert.False(t, d.Seen("job-1", now))
	d.Mark("job-1", now)
	assert.True(t, d.Seen("job-1", now.Add(time.Minute)))
	assert.False(t, d.Seen("job-2", now))
}

func TestDedup_CheckingDoesNotMark(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(10*time.Minute, 100)

	assert.False(t, d.Seen("job-1", now))
	// A check alone must not consume the slot.
	assert.False(t, d.Seen("job-1", now.Add(time.Second)))
	assert.Equal(t, 0, d.Len())
}

func TestDedup_ExpiryAllowsReprocessing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(10*time.Minute, 100)

	d.Mark("job-1", now)
	// Past the window the entry is pruned and the id reads as new again.
	assert.False(t, d.Seen("job-1", now.Add(11*time.Minute)))
	assert.Equal(t, 0, d.Len())
}

func TestDedup_EvictsOldestOverBound(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(time.Hour, 3)

	for i := 0; i < 4; i++ {
		d.Mark(fmt.Sprintf("job-%d", i), now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 3, d.Len())
	// job-0 was the oldest, so it is gone and reads as new.
	assert.False(t, d.Seen("job-0", now.Add(5*time.Second)))
}

func TestDedup_ZeroConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	d := NewDedup(0, 0)
	now := time.Now()
	assert.False(t, d.Seen("job-1", now))
	d.Mark("job-1", now)
	assert.True(t, d.Seen("job-1", now))
}
