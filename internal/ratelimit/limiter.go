package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the trailing window requests are counted over.
const DefaultWindow = 60 * time.Second

// Limiter is a sliding-window gate: at most max requests are granted in any
// trailing window.
//
// The mutex guards only the bookkeeping. A caller that has to wait releases
// it before sleeping, so other callers can keep checking capacity, and
// re-checks once awake. A timestamp is recorded only when a request is
// granted; a cancelled wait leaves no trace.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	// lastSeen is the last time Wait checked capacity.
	lastSeen time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New creates a Limiter granting at most max requests per window.
func New(max int, window time.Duration, opts ...Option) (*Limiter, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max requests per window must be positive, got %d", max)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}

	l := &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Wait blocks until another request can be issued without exceeding the
// limit, then records it. It returns the total time spent waiting. If ctx
// is done first, Wait returns ctx's error and records nothing.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return waited, err
		}

		d := l.reserve()
		if d == 0 {
			return waited, nil
		}

		if err := l.sleep(ctx, d); err != nil {
			return waited, err
		}
		waited += d
	}
}

// reserve grants a slot and returns 0, or returns how long to wait before
// trying again.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.lastSeen = now
	l.prune(now)
	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return 0
	}
	return l.stamps[0].Add(l.window).Sub(now)
}

// prune drops timestamps at or before now-window. Callers hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// InWindow returns how many requests were granted in the trailing window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// idleSince reports whether the limiter holds no request inside the window
// and has not been waited on since cutoff.
func (l *Limiter) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps) == 0 && l.lastSeen.Before(cutoff)
}

// Max returns the configured limit.
func (l *Limiter) Max() int {
	return l.max
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
