// Package store declares the persistence interfaces consumed by the pipeline
// and the API layer. Implementations live in subpackages; this package must
// not import database drivers or concrete clients.
package store

import (
	"context"
	"errors"

	"github.com/pmmp-data/harvester/internal/records"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ConsultationFilter narrows ListConsultations results. Zero values mean
// "no filter" for the string fields.
type ConsultationFilter struct {
	Status     records.ConsultationStatus
	MarketType records.MarketType
	Authority  string
	Limit      int
	Offset     int
}

// Repository persists procurement records and run logs.
//
// Save applies natural-key upsert semantics: a record whose key already
// exists merges into the stored row field by field, where incoming NULLs
// never overwrite stored values. The returned bool reports whether a new
// row was inserted (as opposed to an existing row updated).
type Repository interface {
	Save(ctx context.Context, rec *records.Record) (inserted bool, err error)

	// KnownConsultationKeys returns every stored consultation natural key,
	// used to seed run-scoped duplicate detection.
	KnownConsultationKeys(ctx context.Context) (map[string]struct{}, error)

	// DeleteConsultation removes a consultation and, via cascade, all of its
	// dependent lots, PVs, attributions and completions.
	DeleteConsultation(ctx context.Context, reference, authority string) error

	GetConsultation(ctx context.Context, reference, authority string) (*records.Consultation, error)
	ListConsultations(ctx context.Context, filter ConsultationFilter) ([]*records.Consultation, error)
	ListLots(ctx context.Context, reference, authority string) ([]*records.Lot, error)

	// StartRun inserts the run log row in its running state.
	StartRun(ctx context.Context, run *records.RunLog) error
	// CompleteRun writes the terminal status and final counters.
	CompleteRun(ctx context.Context, run *records.RunLog) error
	ListRuns(ctx context.Context, limit, offset int) ([]records.RunLog, error)

	Close()
}
