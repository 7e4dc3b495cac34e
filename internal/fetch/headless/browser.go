// Package headless drives a Chrome instance via chromedp for pages whose
// content only exists after client-side rendering, and for form submission.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pmmp-data/harvester/internal/fetch"
	"github.com/pmmp-data/harvester/internal/metrics"
)

// Config controls the browser allocator.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser owns the Chrome exec allocator. Sessions are carved out of it and
// must be released individually; Close tears the allocator down.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New launches the allocator. Failure to start Chrome at startup is fatal for
// the caller: there is no degraded headless mode.
func New(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// NavTimeout is the per-step navigation budget.
func (b *Browser) NavTimeout() time.Duration {
	return b.cfg.NavigationTimeout
}

// Fetch performs a one-shot rendered navigation: open a session, navigate,
// wait for readiness, capture the DOM, close the session. The session is
// released on every exit path.
func (b *Browser) Fetch(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	session, err := b.NewSession(ctx)
	if err != nil {
		metrics.ObserveFetch("headless", "error")
		return fetch.Page{}, err
	}
	defer session.Close()

	start := time.Now()
	if err := session.Navigate(ctx, req.URL, req.WaitSelector); err != nil {
		metrics.ObserveFetch("headless", string(fetch.KindOf(err)))
		return fetch.Page{}, err
	}
	page, err := session.Snapshot(ctx)
	if err != nil {
		metrics.ObserveFetch("headless", string(fetch.KindOf(err)))
		return fetch.Page{}, err
	}
	page.Duration = time.Since(start)
	metrics.ObserveFetch("headless", "ok")
	return page, nil
}

// NewSession acquires a browser page scoped to one navigation flow. The
// caller must Close it on every exit path.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	if b.limiter != nil {
		select {
		case b.limiter <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("headless: session slot wait: %w", ctx.Err())
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	s := &Session{
		browser: b,
		ctx:     taskCtx,
		cancel:  taskCancel,
		timeout: b.cfg.NavigationTimeout,
		meta:    &responseMeta{},
	}
	chromedp.ListenTarget(taskCtx, s.meta.captureEvent)

	if err := chromedp.Run(taskCtx, b.setupAction()); err != nil {
		s.Close()
		return nil, fetch.NewError(fetch.KindNetwork, "", fmt.Errorf("headless: session setup: %w", err))
	}
	return s, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) releaseSlot() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// responseMeta captures the status of the last document response so the
// caller can detect throttling on rendered navigations.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, m.url
}
