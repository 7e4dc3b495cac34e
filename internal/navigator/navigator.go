// Package navigator drives the portal's stateful search form inside a
// browser session and walks the paginated results it produces.
//
// The portal keeps its search state server side, keyed by a hidden page
// state token that must round trip with every postback. Driving a single
// browser session through load, fill, submit and next-page clicks preserves
// that token for free; the navigator never touches it directly.
package navigator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/fetch"
	"github.com/pmmp-data/harvester/internal/records"
)

// State is the navigator's position in the form lifecycle.
type State int

// Navigation states, in lifecycle order.
const (
	StateInit State = iota
	StateFormLoaded
	StateSubmitted
	StateResultsPage
	StateDone
	StateFailed
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFormLoaded:
		return "form_loaded"
	case StateSubmitted:
		return "submitted"
	case StateResultsPage:
		return "results_page"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the browser surface the navigator drives. *headless.Session
// satisfies it; tests supply scripted fakes.
type Session interface {
	Navigate(ctx context.Context, url, readySelector string) error
	SetValue(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	ClickText(ctx context.Context, text string) error
	WaitVisible(ctx context.Context, sel string) error
	HTML(ctx context.Context) (string, error)
}

// Query is the search the navigator submits.
type Query struct {
	Keyword    string
	MarketType records.MarketType
	Status     records.ConsultationStatus
	From       *time.Time
	To         *time.Time
}

// broadened strips everything but the keyword for the fallback submission.
func (q Query) broadened() Query {
	return Query{Keyword: q.Keyword}
}

// Config locates the form and bounds the walk.
type Config struct {
	// StartURL is the search form entry point.
	StartURL string
	// FormSelector is waited on after the initial navigation.
	FormSelector string
	// ResultsSelector is waited on after each submit and page turn.
	ResultsSelector string
	// SubmitSelector activates the search. Defaults to the form's submit control.
	SubmitSelector string
	// MaxPages caps pagination. Zero means the package default.
	MaxPages int
}

const defaultMaxPages = 200

func (c Config) withDefaults() Config {
	if c.FormSelector == "" {
		c.FormSelector = "form"
	}
	if c.ResultsSelector == "" {
		c.ResultsSelector = "table"
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = `input[type=submit], button[type=submit]`
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	return c
}

// PageFunc receives each results page. Returning an error aborts the walk.
type PageFunc func(pageNum int, html []byte) error

// Navigator walks one query through the portal's search form.
type Navigator struct {
	sess  Session
	cfg   Config
	log   *zap.Logger
	state State
}

// New builds a navigator over an open session.
func New(sess Session, cfg Config, log *zap.Logger) *Navigator {
	return &Navigator{sess: sess, cfg: cfg.withDefaults(), log: log, state: StateInit}
}

// State reports the current lifecycle state.
func (n *Navigator) State() State {
	return n.state
}

// Run loads the form, submits the query and hands every results page to
// handle. It returns the number of pages handled; on error that count still
// reflects the progress made before the failure.
func (n *Navigator) Run(ctx context.Context, q Query, handle PageFunc) (int, error) {
	if err := n.loadForm(ctx); err != nil {
		n.state = StateFailed
		return 0, err
	}

	if err := n.submit(ctx, q); err != nil {
		// The portal intermittently times out on narrow criteria. Retry once
		// with only the keyword; the extractor filters the wider result set.
		if !fetch.IsTimeout(err) {
			n.state = StateFailed
			return 0, err
		}
		n.log.Warn("results wait timed out, retrying with broadened query",
			zap.String("url", n.cfg.StartURL),
			zap.Error(err),
		)
		if err := n.loadForm(ctx); err != nil {
			n.state = StateFailed
			return 0, err
		}
		if err := n.submit(ctx, q.broadened()); err != nil {
			n.state = StateFailed
			return 0, fmt.Errorf("broadened query failed: %w", err)
		}
	}

	return n.paginate(ctx, handle)
}

func (n *Navigator) loadForm(ctx context.Context) error {
	n.state = StateInit
	if err := n.sess.Navigate(ctx, n.cfg.StartURL, n.cfg.FormSelector); err != nil {
		return fmt.Errorf("load search form: %w", err)
	}
	n.state = StateFormLoaded
	return nil
}

func (n *Navigator) submit(ctx context.Context, q Query) error {
	html, err := n.sess.HTML(ctx)
	if err != nil {
		return fmt.Errorf("read form markup: %w", err)
	}
	if err := n.fillForm(ctx, html, q); err != nil {
		return err
	}
	if err := n.sess.Click(ctx, n.cfg.SubmitSelector); err != nil {
		return fmt.Errorf("submit search form: %w", err)
	}
	n.state = StateSubmitted
	if err := n.sess.WaitVisible(ctx, n.cfg.ResultsSelector); err != nil {
		return fmt.Errorf("wait for results: %w", err)
	}
	return nil
}

func (n *Navigator) paginate(ctx context.Context, handle PageFunc) (int, error) {
	seen := make(map[[sha256.Size]byte]struct{})
	pages := 0

	for {
		n.state = StateResultsPage
		html, err := n.sess.HTML(ctx)
		if err != nil {
			n.state = StateFailed
			return pages, fmt.Errorf("read results page %d: %w", pages+1, err)
		}

		// The portal occasionally serves the same page for a next click when
		// its server-side state expires. A revisited fingerprint means the
		// walk is looping, not progressing.
		fp := sha256.Sum256([]byte(html))
		if _, revisit := seen[fp]; revisit {
			n.log.Warn("revisited results page, stopping pagination",
				zap.Int("page", pages+1),
			)
			n.state = StateDone
			return pages, nil
		}
		seen[fp] = struct{}{}

		pages++
		if err := handle(pages, []byte(html)); err != nil {
			n.state = StateFailed
			return pages, fmt.Errorf("handle results page %d: %w", pages, err)
		}

		if pages >= n.cfg.MaxPages {
			n.log.Warn("page ceiling reached, stopping pagination",
				zap.Int("pages", pages),
				zap.Int("max_pages", n.cfg.MaxPages),
			)
			n.state = StateDone
			return pages, nil
		}

		next, ok := findNext(html)
		if !ok {
			n.state = StateDone
			return pages, nil
		}
		if err := n.clickNext(ctx, next); err != nil {
			n.state = StateFailed
			return pages, fmt.Errorf("advance to page %d: %w", pages+1, err)
		}
		if err := n.sess.WaitVisible(ctx, n.cfg.ResultsSelector); err != nil {
			n.state = StateFailed
			return pages, fmt.Errorf("wait for page %d: %w", pages+1, err)
		}
	}
}

func (n *Navigator) clickNext(ctx context.Context, next nextControl) error {
	if next.selector != "" {
		return n.sess.Click(ctx, next.selector)
	}
	return n.sess.ClickText(ctx, next.text)
}
