// Package publisher declares the event publishing interface used to announce
// crawl run completions to downstream consumers.
package publisher

import (
	"context"
	"time"

	"github.com/pmmp-data/harvester/internal/records"
)

// Publisher sends a payload to a named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunCompleted is the event emitted when a crawl run reaches a terminal state.
type RunCompleted struct {
	RunID          string            `json:"run_id"`
	JobName        string            `json:"job_name"`
	Status         records.RunStatus `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	PagesCrawled   int               `json:"pages_crawled"`
	ItemsExtracted int               `json:"items_extracted"`
	ItemsSaved     int               `json:"items_saved"`
	ItemsDropped   int               `json:"items_dropped"`
	Errors         int               `json:"errors"`
}

// FromRunLog builds the completion event from a sealed run log.
func FromRunLog(run records.RunLog) RunCompleted {
	return RunCompleted{
		RunID:          run.ID,
		JobName:        run.JobName,
		Status:         run.Status,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		PagesCrawled:   run.PagesCrawled,
		ItemsExtracted: run.ItemsExtracted,
		ItemsSaved:     run.ItemsSaved,
		ItemsDropped:   run.ItemsDropped,
		Errors:         run.Errors,
	}
}
