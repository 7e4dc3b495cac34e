// Package fetch defines the types shared by the direct and headless fetchers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request captures everything needed to fetch one URL.
type Request struct {
	URL     string
	Headers http.Header
	// WaitSelector, for headless fetches, is the structural element whose
	// presence signals the page is ready. Empty means wait for <body>.
	WaitSelector string
}

// Page is a rendered page returned by a Fetcher.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// RateLimited reports whether the target throttled this response.
func (p Page) RateLimited() bool {
	return p.StatusCode == http.StatusTooManyRequests
}

// ErrorKind classifies fetch failures for retry/backoff decisions.
type ErrorKind string

// Fetch error kinds.
const (
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
)

// Error is a classified fetch failure.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the request URL.
func NewError(kind ErrorKind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the error kind, defaulting to network for unclassified
// failures and timeout for deadline expiry.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// IsTimeout reports whether err is a timeout-class fetch failure.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Fetcher fetches one URL and returns the rendered page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Page, error)
}
