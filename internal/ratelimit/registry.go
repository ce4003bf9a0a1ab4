package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxfleet/internal/logging"
)

// DefaultIdleTimeout is how long an unused limiter is kept. It is raised to
// the window when the window is longer.
const DefaultIdleTimeout = 10 * time.Minute

// Key identifies the owner of a limiter.
type Key struct {
	TenantID string
	Kind     string
}

type entry struct {
	limiter  *Limiter
	lastUsed time.Time
}

// Registry hands out one Limiter per (tenant, API kind) so tenants never
// share a quota. A limiter is dropped only when it has been idle for the
// idle timeout and holds no request inside its window.
type Registry struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	defaultMax int
	limits     map[string]int
	window     time.Duration
	idle       time.Duration
	now        func() time.Time
	opts       []Option
	logger     *slog.Logger
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// DefaultMax applies to kinds without an entry in Limits.
	DefaultMax int
	// Limits maps API kind to requests per window.
	Limits      map[string]int
	Window      time.Duration
	IdleTimeout time.Duration
	Logger      *slog.Logger
	// LimiterOptions are applied to every limiter created.
	LimiterOptions []Option
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DefaultMax <= 0 {
		cfg.DefaultMax = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	cfg.IdleTimeout = max(cfg.IdleTimeout, cfg.Window)

	limits := make(map[string]int, len(cfg.Limits))
	for k, v := range cfg.Limits {
		if v > 0 {
			limits[k] = v
		}
	}

	return &Registry{
		entries:    make(map[Key]*entry),
		defaultMax: cfg.DefaultMax,
		limits:     limits,
		window:     cfg.Window,
		idle:       cfg.IdleTimeout,
		now:        time.Now,
		opts:       cfg.LimiterOptions,
		logger:     logging.OrDefault(cfg.Logger),
	}
}

// For returns the limiter owned by (tenantID, kind), creating it on first
// use.
func (r *Registry) For(tenantID, kind string) *Limiter {
	key := Key{TenantID: tenantID, Kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		max := r.defaultMax
		if v, found := r.limits[kind]; found {
			max = v
		}
		// max and window were validated in NewRegistry.
		l, _ := New(max, r.window, r.opts...)
		e = &entry{limiter: l}
		r.entries[key] = e
	}
	e.lastUsed = r.now()
	return e.limiter
}

// Scoped waits on the live limiter of one (tenant, kind) pair. The limiter is
// looked up on every Wait, so a holder never keeps a limiter the registry
// has since replaced.
type Scoped struct {
	r   *Registry
	key Key
}

// Scoped returns a Scoped waiter for (tenantID, kind), creating the
// limiter if needed.
func (r *Registry) Scoped(tenantID, kind string) *Scoped {
	r.For(tenantID, kind)
	return &Scoped{r: r, key: Key{TenantID: tenantID, Kind: kind}}
}

// Wait is Limiter.Wait on the pair's current limiter.
func (s *Scoped) Wait(ctx context.Context) (time.Duration, error) {
	return s.r.For(s.key.TenantID, s.key.Kind).Wait(ctx)
}

// Len returns the number of live limiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Prune drops limiters unused for longer than the idle timeout that hold no
// request inside their window, and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	removed := 0
	for key, e := range r.entries {
		if e.lastUsed.Before(cutoff) && e.limiter.idleSince(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle limiters every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(); n > 0 {
				r.logger.Debug("pruned idle rate limiters", slog.Int("count", n))
			}
		}
	}
}
