package pipeline

import (
	"context"
	"sync"

	"github.com/pmmp-data/harvester/internal/records"
)

// Deduper drops consultations whose natural key was already seen, either in
// the store (the seed set) or earlier in the same run. Other kinds pass
// through untouched: their upserts are idempotent and re-processing them
// merges fresher fields into the stored row.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper builds the stage seeded with the keys already persisted.
func NewDeduper(seed map[string]struct{}) *Deduper {
	seen := make(map[string]struct{}, len(seed))
	for k := range seed {
		seen[k] = struct{}{}
	}
	return &Deduper{seen: seen}
}

// Name implements Stage.
func (d *Deduper) Name() string { return "deduper" }

// Process drops a consultation seen before and remembers new keys.
func (d *Deduper) Process(_ context.Context, rec *records.Record) Result {
	if rec.Kind != records.KindConsultation {
		return Accept()
	}
	key := rec.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[key]; dup {
		return Drop(d.Name(), ReasonDuplicate)
	}
	d.seen[key] = struct{}{}
	return Accept()
}
