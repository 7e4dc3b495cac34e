package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmmp-data/harvester/internal/records"
)

func TestCountersAccumulateConcurrently(t *testing.T) {
	t.Parallel()

	l := New("consultations")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ItemExtracted()
			l.ItemSaved()
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, 50, snap.ItemsExtracted)
	assert.Equal(t, 50, snap.ItemsSaved)
	assert.Equal(t, records.RunRunning, snap.Status)
}

func TestFinishStatusDegrades(t *testing.T) {
	t.Parallel()

	clean := New("consultations")
	clean.PageCrawled()
	clean.ItemSaved()
	assert.Equal(t, records.RunSuccess, clean.Finish(nil).Status)

	partial := New("consultations")
	partial.PageCrawled()
	partial.ItemSaved()
	partial.Error()
	assert.Equal(t, records.RunPartial, partial.Finish(nil).Status)

	failed := New("consultations")
	failed.Error()
	assert.Equal(t, records.RunFailed, failed.Finish(nil).Status)
}

func TestFinishRecordsDuration(t *testing.T) {
	t.Parallel()

	l := New("attributions")
	run := l.Finish(nil)

	require.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.DurationSeconds)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.NotEmpty(t, run.ID)
}
