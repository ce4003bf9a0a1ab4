package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
)

// Defaults for Policy.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 60 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// Waiter gates each attempt. *ratelimit.Limiter and *ratelimit.Scoped
// implement it.
type Waiter interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Policy controls how many attempts are made and how long to back off
// between them.
type Policy struct {
	// MaxAttempts is the total number of tries, the first included.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt. Each further
	// failure doubles it.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff.
	MaxDelay time.Duration
	// AttemptTimeout bounds one attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(DefaultMaxDelay, p.BaseDelay)
	}
	return p
}

// Executor runs remote calls for one tenant and one API kind under the
// shared retry policy. Each attempt first passes through the rate limiter.
type Executor struct {
	limiter  Waiter
	policy   Policy
	kind     string
	tenantID string
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithScope labels logs and metrics with the API kind and tenant.
func WithScope(kind, tenantID string) Option {
	return func(e *Executor) {
		e.kind = kind
		e.tenantID = tenantID
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder. A nil recorder is allowed.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// New returns an Executor. limiter may be nil for unthrottled calls.
func New(limiter Waiter, policy Policy, opts ...Option) *Executor {
	e := &Executor{
		limiter: limiter,
		policy:  policy.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger)
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Kind returns the API kind the executor is scoped to.
func (e *Executor) Kind() string {
	return e.kind
}

// Metrics returns the metrics recorder, possibly nil.
func (e *Executor) Metrics() *instrumentation.Metrics {
	return e.metrics
}

// Run is Do for calls without a result value.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do performs fn, one remote call attempt, until it succeeds or the policy
// gives up. A failure that is not retryable, or the last retryable one, is
// returned as an *apperrors.Error carrying the kind, the HTTP status and the
// number of attempts made. Cancellation of ctx is returned unchanged.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, span := instrumentation.StartRemoteSpan(ctx, e.kind, op)
	defer span.End()

	logger := e.logger.With(logging.Operation(op), logging.APIKind(e.kind))
	if e.tenantID != "" {
		logger = logger.With(logging.TenantID(e.tenantID))
	}

	var (
		attempts int
		last     Classification
		lastErr  error
	)

	operation := func() (T, error) {
		var zero T
		attempts++

		if e.limiter != nil {
			waited, err := e.limiter.Wait(ctx)
			if err != nil {
				return zero, backoff.Permanent(err)
			}
			if waited > 0 {
				e.metrics.RecordRateLimitWait(ctx, e.kind, waited)
				logger.Debug("rate limiter delayed attempt", logging.Attempt(attempts), logging.Duration(waited))
			}
		}

		attemptCtx, cancel := e.attemptContext(ctx)
		res, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, backoff.Permanent(ctxErr)
		}

		last = Classify(ctx, err)
		lastErr = err
		if !last.Retryable {
			return zero, backoff.Permanent(err)
		}
		if attempts < e.policy.MaxAttempts {
			e.metrics.RecordRemoteRetry(ctx, e.kind, op, string(last.Kind))
		}
		return zero, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("remote call failed, retrying",
				logging.Attempt(attempts),
				slog.String("kind", string(last.Kind)),
				slog.Int("status", last.Status),
				slog.Duration("backoff", next),
				logging.Err(err),
			)
		}),
	)

	if err == nil {
		e.metrics.RecordRemoteCall(ctx, e.kind, op, instrumentation.StatusSuccess, e.tenantID, time.Since(start))
		instrumentation.SetSpanSuccess(span)
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}

	var zero T
	if ctx.Err() != nil || lastErr == nil {
		// Cancelled by the caller, or refused by the limiter before any
		// attempt reached the remote side.
		e.metrics.RecordRemoteCall(ctx, e.kind, op, "cancelled", e.tenantID, time.Since(start))
		instrumentation.SetSpanError(span, err)
		return zero, err
	}

	terminal := &apperrors.Error{
		Kind:     last.Kind,
		Op:       op,
		Status:   last.Status,
		Attempts: attempts,
		Err:      lastErr,
	}
	if last.Retryable {
		terminal.Message = fmt.Sprintf("gave up after %d attempts", attempts)
	}

	e.metrics.RecordRemoteCall(ctx, e.kind, op, string(last.Kind), e.tenantID, time.Since(start))
	instrumentation.SetSpanError(span, terminal)
	logger.Warn("remote call failed",
		logging.Attempt(attempts),
		slog.String("kind", string(last.Kind)),
		slog.Int("status", last.Status),
		logging.Duration(time.Since(start)),
		logging.Err(lastErr),
	)
	return zero, terminal
}

func (e *Executor) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.policy.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.policy.AttemptTimeout)
}

// newBackOff yields BaseDelay * 2^n for the n-th retry, capped at MaxDelay.
func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = e.policy.MaxDelay
	b.Reset()
	return b
}
