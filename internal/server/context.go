package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/session"
)

// TenantResolver turns a session token into a TenantContext.
// *session.Resolver implements it.
type TenantResolver interface {
	BuildContext(ctx context.Context, token string) (*session.TenantContext, error)
}

// Pinger reports whether a dependency is reachable. *tenant.Store
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures a ServerContext.
type Config struct {
	Resolver TenantResolver
	// Store is pinged by the readiness probe. Optional.
	Store Pinger
	// SessionToken is used when a request carries no tenant, as with the
	// stdio transport.
	SessionToken string
	ReadOnly     bool
	Metrics      *instrumentation.Metrics
	Audit        *instrumentation.AuditLogger
	Logger       *slog.Logger
}

// ServerContext holds what tool handlers share across requests.
type ServerContext struct {
	ctx          context.Context
	cancel       context.CancelFunc
	resolver     TenantResolver
	store        Pinger
	sessionToken string
	readOnly     bool
	metrics      *instrumentation.Metrics
	audit        *instrumentation.AuditLogger
	logger       *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a ServerContext bound to ctx.
func NewServerContext(ctx context.Context, cfg Config) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:          shutdownCtx,
		cancel:       cancel,
		resolver:     cfg.Resolver,
		store:        cfg.Store,
		sessionToken: cfg.SessionToken,
		readOnly:     cfg.ReadOnly,
		metrics:      cfg.Metrics,
		audit:        cfg.Audit,
		logger:       logging.OrDefault(cfg.Logger),
	}
}

// Context returns the server lifetime context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// TenantContext returns the tenant for a tool call. The HTTP transport puts
// it in ctx; otherwise the configured session token is resolved.
func (sc *ServerContext) TenantContext(ctx context.Context) (*session.TenantContext, error) {
	if tc, ok := session.FromContext(ctx); ok {
		return tc, nil
	}
	if sc.resolver == nil || sc.sessionToken == "" {
		return nil, apperrors.New(apperrors.KindAuth, "server.tenant_context", "no session token provided")
	}
	return sc.resolver.BuildContext(ctx, sc.sessionToken)
}

// Resolver returns the tenant resolver.
func (sc *ServerContext) Resolver() TenantResolver {
	return sc.resolver
}

// Store returns the pinger used for readiness, possibly nil.
func (sc *ServerContext) Store() Pinger {
	return sc.store
}

// ReadOnly reports whether write tools are disabled.
func (sc *ServerContext) ReadOnly() bool {
	return sc.readOnly
}

// Metrics returns the metrics recorder, possibly nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, possibly nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
