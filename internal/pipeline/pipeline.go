// Package pipeline runs extracted records through an ordered list of stages.
// The canonical order is validate, clean, dedup, archive, persist. A stage
// rejects a record by returning a drop result; rejection is data, not an
// error, and never aborts the run.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/ledger"
	"github.com/pmmp-data/harvester/internal/metrics"
	"github.com/pmmp-data/harvester/internal/records"
)

// DropReason explains why a stage rejected a record.
type DropReason string

// Drop reasons surfaced in metrics and run logs.
const (
	ReasonMissingField  DropReason = "missing_required_field"
	ReasonDuplicate     DropReason = "duplicate"
	ReasonDatabaseError DropReason = "database_error"
)

// Result is a stage's verdict on one record.
type Result struct {
	Accepted bool
	Stage    string
	Reason   DropReason
}

// Accept returns an accepting result.
func Accept() Result {
	return Result{Accepted: true}
}

// Drop returns a rejecting result attributed to the named stage.
func Drop(stage string, reason DropReason) Result {
	return Result{Stage: stage, Reason: reason}
}

// Stage processes one record and either accepts or drops it.
type Stage interface {
	Name() string
	Process(ctx context.Context, rec *records.Record) Result
}

// Pipeline threads records through its stages in order.
type Pipeline struct {
	stages []Stage
	log    *zap.Logger
	led    *ledger.Ledger
}

// New assembles a pipeline. Stages run in the order given.
func New(log *zap.Logger, led *ledger.Ledger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, log: log, led: led}
}

// Process runs one record through every stage. It returns the first drop
// result, or an accepting result once all stages pass.
func (p *Pipeline) Process(ctx context.Context, rec *records.Record) Result {
	kind := string(rec.Kind)
	metrics.ObserveProcessed(kind)
	p.led.ItemExtracted()

	for _, stage := range p.stages {
		start := time.Now()
		res := stage.Process(ctx, rec)
		metrics.ObserveStageDuration(stage.Name(), time.Since(start))

		if !res.Accepted {
			metrics.ObserveDropped(string(res.Reason))
			p.led.ItemDropped()
			p.log.Debug("record dropped",
				zap.String("stage", res.Stage),
				zap.String("reason", string(res.Reason)),
				zap.String("kind", kind),
				zap.String("key", rec.Key()),
			)
			return res
		}
	}

	metrics.ObserveSaved(kind)
	p.led.ItemSaved()
	return Accept()
}
