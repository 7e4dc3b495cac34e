package records

import "time"

// RunStatus is a crawl run's terminal state. Partial success (some pages
// crawled, some errors) is a valid terminal state, not a failure.
type RunStatus string

// Run statuses persisted in the run log.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RunLog is one crawl run's observability row.
type RunLog struct {
	ID         string
	JobName    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus

	PagesCrawled   int
	ItemsExtracted int
	ItemsSaved     int
	ItemsDropped   int
	Errors         int

	DurationSeconds *int
	Message         *string
}
