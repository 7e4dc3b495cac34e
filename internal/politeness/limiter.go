// Package politeness enforces per-target request hygiene: a fixed delay with
// jitter between requests, serialized access per target, a bounded global
// concurrency ceiling, and escalating backoff after rate-limited responses.
package politeness

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pmmp-data/harvester/internal/metrics"
)

// maxEscalations caps the 429 backoff exponent.
const maxEscalations = 3

// Config tunes the limiter.
type Config struct {
	// BaseDelay is the minimum wait between two requests to one target.
	BaseDelay time.Duration
	// JitterSpan is added uniformly at random on top of BaseDelay.
	JitterSpan time.Duration
	// BackoffBase seeds the exponential backoff applied after rate-limited
	// responses: BackoffBase * 2^consecutive429, capped at maxEscalations.
	BackoffBase time.Duration
	// MaxConcurrent bounds in-flight requests across all targets.
	MaxConcurrent int
	// GlobalRPS, when > 0, additionally caps the request rate across targets.
	GlobalRPS float64
}

// Limiter hands out per-target permits. At most one permit per target is
// outstanding at any time.
type Limiter struct {
	cfg    Config
	global *rate.Limiter
	sem    chan struct{}

	mu      sync.Mutex
	targets map[string]*targetState
}

type targetState struct {
	slot           chan struct{}
	lastRequest    time.Time
	consecutive429 int
}

// Permit represents the right to issue one request to a target. Release it
// on every exit path.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// New builds a Limiter.
func New(cfg Config) *Limiter {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	globalLimit := rate.Inf
	if cfg.GlobalRPS > 0 {
		globalLimit = rate.Limit(cfg.GlobalRPS)
	}
	return &Limiter{
		cfg:     cfg,
		global:  rate.NewLimiter(globalLimit, 1),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		targets: make(map[string]*targetState),
	}
}

// Acquire blocks until it is polite to issue the next request to target. The
// returned permit serializes access: a second Acquire for the same target
// waits until the first permit is released.
func (l *Limiter) Acquire(ctx context.Context, target string) (*Permit, error) {
	if target == "" {
		return nil, fmt.Errorf("politeness: target is required")
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("politeness: global slot wait: %w", ctx.Err())
	}

	st := l.state(target)
	select {
	case st.slot <- struct{}{}:
	case <-ctx.Done():
		<-l.sem
		return nil, fmt.Errorf("politeness: target slot wait for %s: %w", target, ctx.Err())
	}

	release := func() {
		<-st.slot
		<-l.sem
	}

	if err := l.global.Wait(ctx); err != nil {
		release()
		return nil, fmt.Errorf("politeness: global rate wait: %w", err)
	}

	delay := l.pendingDelay(st)
	if delay > 0 {
		metrics.ObserveRateLimitDelay(target, delay)
		if err := sleep(ctx, delay); err != nil {
			release()
			return nil, err
		}
	}

	l.mu.Lock()
	st.lastRequest = time.Now()
	l.mu.Unlock()

	return &Permit{release: release}, nil
}

// ReportResult feeds the outcome of the last request back into the backoff
// state: a rate-limited response escalates, anything else resets.
func (l *Limiter) ReportResult(target string, rateLimited bool) {
	st := l.state(target)
	l.mu.Lock()
	defer l.mu.Unlock()
	if rateLimited {
		st.consecutive429++
	} else {
		st.consecutive429 = 0
	}
}

// NextDelay reports the wait the next Acquire for target would impose if it
// ran now, ignoring elapsed time. Exposed for tests and diagnostics.
func (l *Limiter) NextDelay(target string) time.Duration {
	st := l.state(target)
	l.mu.Lock()
	escalations := st.consecutive429
	l.mu.Unlock()
	return l.cfg.BaseDelay + l.backoff(escalations)
}

func (l *Limiter) pendingDelay(st *targetState) time.Duration {
	l.mu.Lock()
	last := st.lastRequest
	escalations := st.consecutive429
	l.mu.Unlock()

	required := l.cfg.BaseDelay + jitter(l.cfg.JitterSpan) + l.backoff(escalations)
	if last.IsZero() {
		// First contact still honors backoff carried over from a prior page.
		if escalations == 0 {
			return 0
		}
		return l.backoff(escalations)
	}
	elapsed := time.Since(last)
	if elapsed >= required {
		return 0
	}
	return required - elapsed
}

func (l *Limiter) backoff(escalations int) time.Duration {
	if escalations <= 0 {
		return 0
	}
	if escalations > maxEscalations {
		escalations = maxEscalations
	}
	return l.cfg.BackoffBase * (1 << escalations)
}

func jitter(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return span / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness: wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) state(target string) *targetState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.targets[target]
	if !ok {
		st = &targetState{slot: make(chan struct{}, 1)}
		l.targets[target] = st
	}
	return st
}
