package cmd

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/archive"
	"github.com/pmmp-data/harvester/internal/archive/gcs"
	"github.com/pmmp-data/harvester/internal/archive/local"
	"github.com/pmmp-data/harvester/internal/config"
	"github.com/pmmp-data/harvester/internal/extract"
	"github.com/pmmp-data/harvester/internal/fetch/direct"
	"github.com/pmmp-data/harvester/internal/fetch/headless"
	"github.com/pmmp-data/harvester/internal/job"
	"github.com/pmmp-data/harvester/internal/navigator"
	"github.com/pmmp-data/harvester/internal/politeness"
	"github.com/pmmp-data/harvester/internal/publisher"
	pubsubpub "github.com/pmmp-data/harvester/internal/publisher/pubsub"
	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store/postgres"
)

type crawlFlags struct {
	kind       string
	keyword    string
	status     string
	marketType string
	from       string
	to         string
	maxPages   int
	enrich     bool
}

func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one harvest against the portal",
		Long: `Submits a search into the portal's form, walks the paginated results and
runs every extracted record through the validation, cleaning, dedup,
archive and persistence pipeline.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.kind, "kind", "consultation", "record kind: consultation, pv, attribution or completion")
	cmd.Flags().StringVar(&flags.keyword, "keyword", "", "free-text search keyword")
	cmd.Flags().StringVar(&flags.status, "status", "", "consultation status filter (en_cours, cloture, ...)")
	cmd.Flags().StringVar(&flags.marketType, "market-type", "", "market type filter (travaux, fournitures, services, etudes)")
	cmd.Flags().StringVar(&flags.from, "from", "", "publication date lower bound (dd/mm/yyyy or yyyy-mm-dd)")
	cmd.Flags().StringVar(&flags.to, "to", "", "publication date upper bound (dd/mm/yyyy or yyyy-mm-dd)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "pagination ceiling override")
	cmd.Flags().BoolVar(&flags.enrich, "enrich", true, "visit consultation detail pages for lots and contacts")
	return cmd
}

func runCrawl(ctx context.Context, flags *crawlFlags) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	kind, err := kindFromFlag(flags.kind)
	if err != nil {
		return err
	}
	query, err := queryFromFlags(flags)
	if err != nil {
		return err
	}

	if cfg.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	repo, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.ConnLifetime(),
	})
	if err != nil {
		return err
	}
	defer repo.Close()

	blob, cleanupBlob, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanupBlob()

	pub, cleanupPub, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanupPub()

	browser, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Portal.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout(),
	})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer browser.Close()

	runner, err := job.NewRunner(job.Options{
		Log:   logger,
		Repo:  repo,
		Blob:  blob,
		Pub:   pub,
		Topic: cfg.PubSub.TopicName,
		Limiter: politeness.New(politeness.Config{
			BaseDelay:     cfg.Politeness.BaseDelay(),
			JitterSpan:    cfg.Politeness.JitterSpan(),
			BackoffBase:   cfg.Politeness.BackoffBase(),
			MaxConcurrent: cfg.Politeness.MaxConcurrent,
			GlobalRPS:     cfg.Politeness.GlobalRPS,
		}),
		Open: job.HeadlessOpener(browser),
		Detail: direct.New(direct.Config{
			UserAgent:     cfg.Portal.UserAgent,
			Timeout:       30 * time.Second,
			RespectRobots: cfg.Portal.RespectRobots,
		}),
		Portal: cfg.Portal.SearchURL,
		NavCfg: navigator.Config{
			MaxPages:        cfg.Navigator.MaxPages,
			FormSelector:    cfg.Navigator.FormSelector,
			ResultsSelector: cfg.Navigator.ResultsSelector,
			SubmitSelector:  cfg.Navigator.SubmitSelector,
		},
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, job.Params{
		Kind:          kind,
		Query:         query,
		MaxPages:      flags.maxPages,
		EnrichDetails: flags.enrich && kind == records.KindConsultation,
	})
	if err != nil {
		logger.Error("harvest failed",
			zap.Int("pages", report.Pages),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func kindFromFlag(raw string) (records.Kind, error) {
	for _, k := range records.Kinds() {
		if string(k) != raw {
			continue
		}
		// Lots have no listing of their own; they arrive via consultation
		// detail pages.
		if k == records.KindLot {
			return "", fmt.Errorf("kind %q is not crawlable, use consultation with --enrich", raw)
		}
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", raw)
}

func queryFromFlags(flags *crawlFlags) (navigator.Query, error) {
	q := navigator.Query{
		Keyword:    flags.keyword,
		MarketType: records.MarketType(flags.marketType),
	}
	if flags.status != "" {
		status, ok := navigator.StatusFromLabel(flags.status)
		if !ok {
			return navigator.Query{}, fmt.Errorf("unknown status %q", flags.status)
		}
		q.Status = status
	}
	if flags.from != "" {
		t, ok := extract.ParseDate(flags.from)
		if !ok {
			return navigator.Query{}, fmt.Errorf("invalid --from date %q", flags.from)
		}
		q.From = &t
	}
	if flags.to != "" {
		t, ok := extract.ParseDate(flags.to)
		if !ok {
			return navigator.Query{}, fmt.Errorf("invalid --to date %q", flags.to)
		}
		q.To = &t
	}
	return q, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (archive.Store, func(), error) {
	noop := func() {}
	switch cfg.Archive.Mode {
	case "off":
		return nil, noop, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init local archive: %w", err)
		}
		return store, noop, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown archive mode %q", cfg.Archive.Mode)
}

func buildPublisher(ctx context.Context, cfg config.Config) (publisher.Publisher, func(), error) {
	noop := func() {}
	if !cfg.PubSub.Enabled {
		return nil, noop, nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, noop, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		_ = client.Close()
	}
	return pubsubpub.New(topic), cleanup, nil
}
