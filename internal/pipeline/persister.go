package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/ledger"
	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

// Persister upserts the record into the repository. A database error drops
// the record; the run continues.
type Persister struct {
	repo store.Repository
	log  *zap.Logger
	led  *ledger.Ledger
}

// NewPersister returns the persistence stage.
func NewPersister(repo store.Repository, log *zap.Logger, led *ledger.Ledger) *Persister {
	return &Persister{repo: repo, log: log, led: led}
}

// Name implements Stage.
func (p *Persister) Name() string { return "persister" }

// Process saves the record by natural-key upsert.
func (p *Persister) Process(ctx context.Context, rec *records.Record) Result {
	inserted, err := p.repo.Save(ctx, rec)
	if err != nil {
		p.led.Error()
		p.log.Error("persist failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("key", rec.Key()),
			zap.Error(err),
		)
		return Drop(p.Name(), ReasonDatabaseError)
	}
	p.log.Debug("record persisted",
		zap.String("kind", string(rec.Kind)),
		zap.String("key", rec.Key()),
		zap.Bool("inserted", inserted),
	)
	return Accept()
}
