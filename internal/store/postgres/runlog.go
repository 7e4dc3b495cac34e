package postgres

import (
	"context"
	"fmt"

	"github.com/pmmp-data/harvester/internal/records"
)

// StartRun inserts the run log row in its running state.
func (r *Repository) StartRun(ctx context.Context, run *records.RunLog) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO run_logs (id, job_name, started_at, status)
VALUES ($1, $2, $3, $4)`,
		run.ID, run.JobName, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// CompleteRun writes the terminal status and final counters.
func (r *Repository) CompleteRun(ctx context.Context, run *records.RunLog) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := r.pool.Exec(ctx, `
UPDATE run_logs SET
	finished_at      = $2,
	status           = $3,
	pages_crawled    = $4,
	items_extracted  = $5,
	items_saved      = $6,
	items_dropped    = $7,
	errors           = $8,
	duration_seconds = $9,
	message          = $10
WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Status),
		run.PagesCrawled, run.ItemsExtracted, run.ItemsSaved, run.ItemsDropped, run.Errors,
		run.DurationSeconds, run.Message,
	)
	if err != nil {
		return fmt.Errorf("complete run log: %w", err)
	}
	return nil
}

// ListRuns returns run logs newest first.
func (r *Repository) ListRuns(ctx context.Context, limit, offset int) ([]records.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, job_name, started_at, finished_at, status,
	pages_crawled, items_extracted, items_saved, items_dropped, errors,
	duration_seconds, message
FROM run_logs ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	defer rows.Close()

	var out []records.RunLog
	for rows.Next() {
		var (
			run    records.RunLog
			status string
		)
		err := rows.Scan(
			&run.ID, &run.JobName, &run.StartedAt, &run.FinishedAt, &status,
			&run.PagesCrawled, &run.ItemsExtracted, &run.ItemsSaved, &run.ItemsDropped, &run.Errors,
			&run.DurationSeconds, &run.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		run.Status = records.RunStatus(status)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run logs: %w", err)
	}
	return out, nil
}
