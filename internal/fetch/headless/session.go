package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pmmp-data/harvester/internal/fetch"
)

// Session is one scoped browser page. Every navigation step is bounded by
// the configured timeout; Close releases the page and its slot exactly once.
type Session struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	meta    *responseMeta
	closed  sync.Once
}

// Close releases the browser page. Safe to call multiple times.
func (s *Session) Close() {
	s.closed.Do(func() {
		s.cancel()
		s.browser.releaseSlot()
	})
}

// Navigate loads url and waits for readySelector (or <body>) to appear.
func (s *Session) Navigate(ctx context.Context, url, readySelector string) error {
	if readySelector == "" {
		readySelector = "body"
	}
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady(readySelector, chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if err := s.run(ctx, actions...); err != nil {
		return s.classify(url, err)
	}
	return nil
}

// SetValue writes value into the form control matching sel.
func (s *Session) SetValue(ctx context.Context, sel, value string) error {
	if err := s.run(ctx, chromedp.SetValue(sel, value, chromedp.ByQuery)); err != nil {
		return s.classify(sel, err)
	}
	return nil
}

// Click activates the element matching the CSS selector.
func (s *Session) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return s.classify(sel, err)
	}
	return nil
}

// ClickText activates the first anchor whose text contains text.
func (s *Session) ClickText(ctx context.Context, text string) error {
	expr := fmt.Sprintf(`//a[contains(normalize-space(.), %q)]`, text)
	if err := s.run(ctx, chromedp.Click(expr, chromedp.BySearch)); err != nil {
		return s.classify(text, err)
	}
	return nil
}

// WaitVisible blocks until sel is visible or the step budget expires.
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return s.classify(sel, err)
	}
	return nil
}

// HTML returns the current serialized DOM.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", s.classify("outerHTML", err)
	}
	return html, nil
}

// Location returns the page's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", s.classify("location", err)
	}
	return loc, nil
}

// Snapshot captures the rendered page with the last observed document status.
func (s *Session) Snapshot(ctx context.Context) (fetch.Page, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return fetch.Page{}, err
	}
	loc, err := s.Location(ctx)
	if err != nil {
		return fetch.Page{}, err
	}
	status, metaURL := s.meta.snapshot()
	if metaURL != "" {
		loc = metaURL
	}
	return fetch.Page{
		URL:        loc,
		StatusCode: status,
		Body:       []byte(html),
		Headless:   true,
	}, nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(stepCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Session) classify(subject string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.NewError(fetch.KindTimeout, subject, err)
	}
	return fetch.NewError(fetch.KindNetwork, subject, err)
}
