// Package ledger accumulates a crawl run's counters and produces its run log.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmmp-data/harvester/internal/records"
)

// Ledger is a run-scoped counter set. All methods are safe for concurrent use.
type Ledger struct {
	mu  sync.Mutex
	run records.RunLog
}

// New starts a ledger for one run of the named job.
func New(jobName string) *Ledger {
	return &Ledger{
		run: records.RunLog{
			ID:        uuid.NewString(),
			JobName:   jobName,
			StartedAt: time.Now().UTC(),
			Status:    records.RunRunning,
		},
	}
}

// RunID returns the run's identifier.
func (l *Ledger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run.ID
}

// PageCrawled counts one results page fully processed.
func (l *Ledger) PageCrawled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.PagesCrawled++
}

// ItemExtracted counts one record handed to the pipeline.
func (l *Ledger) ItemExtracted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.ItemsExtracted++
}

// ItemSaved counts one record persisted.
func (l *Ledger) ItemSaved() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.ItemsSaved++
}

// ItemDropped counts one record rejected by a pipeline stage.
func (l *Ledger) ItemDropped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.ItemsDropped++
}

// Error counts one non-fatal error observed during the run.
func (l *Ledger) Error() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Errors++
}

// Snapshot returns a copy of the current counters.
func (l *Ledger) Snapshot() records.RunLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// Finish seals the run with its terminal status and returns the final log.
// The status degrades to partial when progress was made alongside errors,
// and to failed when nothing was saved at all.
func (l *Ledger) Finish(message *string) records.RunLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.run.FinishedAt = &now
	seconds := int(now.Sub(l.run.StartedAt).Seconds())
	l.run.DurationSeconds = &seconds
	l.run.Message = message

	switch {
	case l.run.Errors == 0:
		l.run.Status = records.RunSuccess
	case l.run.ItemsSaved > 0 || l.run.PagesCrawled > 0:
		l.run.Status = records.RunPartial
	default:
		l.run.Status = records.RunFailed
	}
	return l.run
}

// Fail seals the run as failed regardless of accumulated progress.
func (l *Ledger) Fail(message *string) records.RunLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.run.FinishedAt = &now
	seconds := int(now.Sub(l.run.StartedAt).Seconds())
	l.run.DurationSeconds = &seconds
	l.run.Message = message
	l.run.Status = records.RunFailed
	return l.run
}
