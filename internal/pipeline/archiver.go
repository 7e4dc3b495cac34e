package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/archive"
	"github.com/pmmp-data/harvester/internal/ledger"
	"github.com/pmmp-data/harvester/internal/records"
)

// Archiver writes the record's raw markup to the archive store and stamps the
// resulting location onto the record. Archiving is best effort: a failed
// write is logged and counted but the record still flows on to persistence.
type Archiver struct {
	store archive.Store
	log   *zap.Logger
	led   *ledger.Ledger
	now   func() time.Time
}

// NewArchiver returns the archiving stage. A nil store disables archiving.
func NewArchiver(store archive.Store, log *zap.Logger, led *ledger.Ledger) *Archiver {
	return &Archiver{store: store, log: log, led: led, now: time.Now}
}

// Name implements Stage.
func (a *Archiver) Name() string { return "archiver" }

// Process archives rec.RawHTML, then strips it so raw markup never reaches
// the database.
func (a *Archiver) Process(ctx context.Context, rec *records.Record) Result {
	raw := rec.RawHTML
	rec.RawHTML = nil
	if a.store == nil || len(raw) == 0 {
		return Accept()
	}

	sum := sha256.Sum256(raw)
	path := fmt.Sprintf("%s/%s_%s_%s.html",
		rec.Kind,
		sanitizeKey(rec.Key()),
		a.now().UTC().Format("20060102T150405"),
		hex.EncodeToString(sum[:])[:8],
	)

	uri, err := a.store.PutObject(ctx, path, "text/html; charset=utf-8", raw)
	if err != nil {
		a.led.Error()
		a.log.Warn("archive write failed",
			zap.String("key", rec.Key()),
			zap.String("path", path),
			zap.Error(err),
		)
		return Accept()
	}
	rec.SetArchivePath(uri)
	return Accept()
}

// sanitizeKey maps a natural key to a filesystem and object safe name.
func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
