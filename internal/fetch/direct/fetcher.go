// Package direct implements plain HTTP fetching via the Colly collector, for
// pages that render without client-side scripting.
package direct

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pmmp-data/harvester/internal/fetch"
	"github.com/pmmp-data/harvester/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher issues single HTTP GETs through a cloned Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes one HTTP GET. The context bounds the whole request.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	collector.SetRequestTimeout(timeout)

	var (
		page     fetch.Page
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		page = fetch.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = classify(req.URL, r, err)
	})

	if err := collector.Visit(req.URL); err != nil {
		// OnError has already classified HTTP-level failures; Visit errors
		// that never produced a response (bad URL, dial failure) have not.
		if fetchErr == nil {
			fetchErr = classify(req.URL, nil, err)
		}
		metrics.ObserveFetch("direct", string(fetch.KindOf(fetchErr)))
		return fetch.Page{}, fetchErr
	}
	collector.Wait()

	if ctx.Err() != nil {
		metrics.ObserveFetch("direct", "canceled")
		return fetch.Page{}, fetch.NewError(fetch.KindTimeout, req.URL, ctx.Err())
	}
	if fetchErr != nil {
		metrics.ObserveFetch("direct", string(fetch.KindOf(fetchErr)))
		return fetch.Page{}, fetchErr
	}
	metrics.ObserveFetch("direct", "ok")
	return page, nil
}

func classify(url string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode == http.StatusTooManyRequests {
		return fetch.NewError(fetch.KindRateLimited, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetch.NewError(fetch.KindTimeout, url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.NewError(fetch.KindTimeout, url, err)
	}
	return fetch.NewError(fetch.KindNetwork, url, err)
}

func cloneHeaders(h *http.Header) http.Header {
	out := http.Header{}
	if h == nil {
		return out
	}
	for k, values := range *h {
		for _, v := range values {
			out.Add(k, v)
		}
	}
	return out
}
