// Package job orchestrates one crawl run: form navigation, extraction, the
// record pipeline and run-log bookkeeping.
package job

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/archive"
	"github.com/pmmp-data/harvester/internal/extract"
	"github.com/pmmp-data/harvester/internal/fetch"
	"github.com/pmmp-data/harvester/internal/fetch/headless"
	"github.com/pmmp-data/harvester/internal/ledger"
	"github.com/pmmp-data/harvester/internal/logging"
	"github.com/pmmp-data/harvester/internal/metrics"
	"github.com/pmmp-data/harvester/internal/navigator"
	"github.com/pmmp-data/harvester/internal/pipeline"
	"github.com/pmmp-data/harvester/internal/politeness"
	"github.com/pmmp-data/harvester/internal/publisher"
	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

// Params selects what one run harvests.
type Params struct {
	// Kind chooses the listing to crawl.
	Kind records.Kind
	// Query is submitted into the portal's search form.
	Query navigator.Query
	// MaxPages overrides the configured pagination ceiling when > 0.
	MaxPages int
	// EnrichDetails visits each consultation's detail page for lots and
	// authority contact fields. Only meaningful for KindConsultation.
	EnrichDetails bool
}

// Report is the outcome of one run.
type Report struct {
	Run   records.RunLog
	Pages int
}

// Opener yields a fresh browser session and its release function.
type Opener func(ctx context.Context) (navigator.Session, func(), error)

// HeadlessOpener adapts a headless browser into an Opener.
func HeadlessOpener(b *headless.Browser) Opener {
	return func(ctx context.Context) (navigator.Session, func(), error) {
		sess, err := b.NewSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		return sess, sess.Close, nil
	}
}

// Options wires a Runner's dependencies. Blob and Pub may be nil; Detail may
// be nil to disable enrichment regardless of Params.
type Options struct {
	Log     *zap.Logger
	Repo    store.Repository
	Blob    archive.Store
	Pub     publisher.Publisher
	Topic   string
	Limiter *politeness.Limiter
	Open    Opener
	Detail  fetch.Fetcher
	Portal  string
	NavCfg  navigator.Config
}

// Runner executes crawl runs.
type Runner struct {
	opts   Options
	target string
}

// NewRunner validates the wiring and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("job: repository is required")
	}
	if opts.Open == nil {
		return nil, fmt.Errorf("job: session opener is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("job: rate limiter is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	parsed, err := url.Parse(opts.Portal)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("job: invalid portal url %q", opts.Portal)
	}
	return &Runner{opts: opts, target: parsed.Host}, nil
}

// Run executes one crawl. The returned report is valid even on error: a run
// that crawled pages before failing reports partial progress.
func (r *Runner) Run(ctx context.Context, params Params) (Report, error) {
	led := ledger.New(string(params.Kind))
	log := logging.ForRun(r.opts.Log, led.RunID(), string(params.Kind))

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	snapshot := led.Snapshot()
	if err := r.opts.Repo.StartRun(ctx, &snapshot); err != nil {
		log.Warn("run log insert failed", zap.Error(err))
	}

	seed, err := r.opts.Repo.KnownConsultationKeys(ctx)
	if err != nil {
		log.Warn("seeding dedup from store failed, run-scoped dedup only", zap.Error(err))
		seed = nil
	}

	pipe := pipeline.New(log, led,
		pipeline.NewValidator(),
		pipeline.NewCleaner(),
		pipeline.NewDeduper(seed),
		pipeline.NewArchiver(r.opts.Blob, log, led),
		pipeline.NewPersister(r.opts.Repo, log, led),
	)

	pages, runErr := r.crawl(ctx, params, log, led, pipe)

	var run records.RunLog
	if runErr != nil {
		led.Error()
		msg := runErr.Error()
		run = led.Finish(&msg)
	} else {
		run = led.Finish(nil)
	}

	if err := r.opts.Repo.CompleteRun(ctx, &run); err != nil {
		log.Warn("run log completion failed", zap.Error(err))
	}
	r.announce(ctx, log, run)

	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("pages", run.PagesCrawled),
		zap.Int("extracted", run.ItemsExtracted),
		zap.Int("saved", run.ItemsSaved),
		zap.Int("dropped", run.ItemsDropped),
	)
	return Report{Run: run, Pages: pages}, runErr
}

func (r *Runner) crawl(
	ctx context.Context,
	params Params,
	log *zap.Logger,
	led *ledger.Ledger,
	pipe *pipeline.Pipeline,
) (int, error) {
	sess, release, err := r.opts.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open browser session: %w", err)
	}
	defer release()

	navCfg := r.opts.NavCfg
	navCfg.StartURL = r.opts.Portal
	if params.MaxPages > 0 {
		navCfg.MaxPages = params.MaxPages
	}
	nav := navigator.New(sess, navCfg, log)

	return nav.Run(ctx, params.Query, func(pageNum int, html []byte) error {
		// Pace each results page against the last request to the portal. The
		// permit is released before record processing so detail fetches can
		// take their own turns on the same target slot.
		permit, err := r.opts.Limiter.Acquire(ctx, r.target)
		if err != nil {
			return err
		}
		permit.Release()
		// The navigator delivered this page, so the portal answered it.
		r.opts.Limiter.ReportResult(r.target, false)

		recs, err := extract.Rows(html, r.opts.Portal, params.Kind)
		if err != nil {
			led.Error()
			log.Warn("page extraction failed", zap.Int("page", pageNum), zap.Error(err))
			return nil
		}

		metrics.ObservePage(string(params.Kind))
		led.PageCrawled()
		log.Debug("results page extracted",
			zap.Int("page", pageNum),
			zap.Int("rows", len(recs)),
		)

		for _, rec := range recs {
			res := pipe.Process(ctx, rec)
			if res.Accepted && params.EnrichDetails && rec.Kind == records.KindConsultation {
				r.enrich(ctx, log, led, pipe, rec.Consultation)
			}
		}
		return nil
	})
}

// enrich visits the consultation's detail page for lots and contact fields.
// Failures are counted and logged; the listing row is already persisted.
func (r *Runner) enrich(
	ctx context.Context,
	log *zap.Logger,
	led *ledger.Ledger,
	pipe *pipeline.Pipeline,
	c *records.Consultation,
) {
	if r.opts.Detail == nil {
		return
	}
	detailURL := ""
	if c.DetailURL != nil {
		detailURL = *c.DetailURL
	}
	if detailURL == "" {
		detailURL = extract.CanonicalDetailURL(r.opts.Portal, c.Reference, c.Authority)
	}

	permit, err := r.opts.Limiter.Acquire(ctx, r.target)
	if err != nil {
		led.Error()
		return
	}
	page, err := r.opts.Detail.Fetch(ctx, fetch.Request{URL: detailURL})
	permit.Release()
	rateLimited := (err != nil && fetch.KindOf(err) == fetch.KindRateLimited) ||
		(err == nil && page.RateLimited())
	r.opts.Limiter.ReportResult(r.target, rateLimited)

	if err != nil {
		led.Error()
		log.Warn("detail fetch failed", zap.String("url", detailURL), zap.Error(err))
		return
	}

	lots, err := extract.EnrichConsultation(page.Body, page.URL, c)
	if err != nil {
		led.Error()
		log.Warn("detail extraction failed", zap.String("url", detailURL), zap.Error(err))
		return
	}

	// Re-persist the consultation so the detail fields merge into its row.
	now := time.Now().UTC()
	c.LastUpdatedAt = now
	enriched := records.NewConsultation(c)
	if _, err := r.opts.Repo.Save(ctx, enriched); err != nil {
		led.Error()
		log.Warn("detail merge failed", zap.String("key", c.Key()), zap.Error(err))
	}

	for _, lot := range lots {
		pipe.Process(ctx, records.NewLot(lot))
	}
}

func (r *Runner) announce(ctx context.Context, log *zap.Logger, run records.RunLog) {
	if r.opts.Pub == nil {
		return
	}
	id, err := r.opts.Pub.Publish(ctx, r.opts.Topic, publisher.FromRunLog(run))
	if err != nil {
		log.Warn("run completion publish failed", zap.Error(err))
		return
	}
	log.Debug("run completion published", zap.String("message_id", id))
}
