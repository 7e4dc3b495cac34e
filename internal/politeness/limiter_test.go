package politeness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffMonotonicUpToCap(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: time.Millisecond, BackoffBase: 10 * time.Millisecond, MaxConcurrent: 1})

	prev := l.NextDelay("portal")
	for i := 0; i < 6; i++ {
		l.ReportResult("portal", true)
		next := l.NextDelay("portal")
		require.GreaterOrEqual(t, next, prev, "delay must not shrink while rate-limited")
		prev = next
	}
	// Capped: the last escalations all yield the same delay.
	require.Equal(t, time.Millisecond+10*time.Millisecond*(1<<3), prev)
}

func TestBackoffResetsOnSuccess(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: time.Millisecond, BackoffBase: 10 * time.Millisecond, MaxConcurrent: 1})
	l.ReportResult("portal", true)
	l.ReportResult("portal", true)
	require.Greater(t, l.NextDelay("portal"), time.Millisecond)

	l.ReportResult("portal", false)
	require.Equal(t, time.Millisecond, l.NextDelay("portal"))
}

func TestPerTargetSerialization(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: time.Millisecond, MaxConcurrent: 4})
	ctx := context.Background()

	p1, err := l.Acquire(ctx, "portal")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		p2, err := l.Acquire(ctx, "portal")
		if err == nil {
			close(acquired)
			p2.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second permit granted while first is outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	p1.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second permit never granted after release")
	}
}

func TestCrossTargetParallelismBounded(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: time.Millisecond, MaxConcurrent: 1})
	ctx := context.Background()

	p1, err := l.Acquire(ctx, "a.example")
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(blocked, "b.example")
	require.Error(t, err, "global ceiling must hold across targets")

	p1.Release()
	p2, err := l.Acquire(ctx, "b.example")
	require.NoError(t, err)
	p2.Release()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: 10 * time.Second, MaxConcurrent: 1})
	ctx := context.Background()

	p1, err := l.Acquire(ctx, "portal")
	require.NoError(t, err)
	defer p1.Release()

	canceled, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	var acquireErr error
	go func() {
		defer wg.Done()
		_, acquireErr = l.Acquire(canceled, "portal")
	}()
	cancel()
	wg.Wait()
	require.Error(t, acquireErr)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(Config{BaseDelay: time.Millisecond, MaxConcurrent: 1})
	p, err := l.Acquire(context.Background(), "portal")
	require.NoError(t, err)
	p.Release()
	p.Release()

	// A double release must not free a slot twice.
	p2, err := l.Acquire(context.Background(), "portal")
	require.NoError(t, err)
	p2.Release()
}
