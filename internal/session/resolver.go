package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/calendar"
	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/leads"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/meet"
	"github.com/teemow/inboxfleet/internal/ratelimit"
	"github.com/teemow/inboxfleet/internal/retry"
	"github.com/teemow/inboxfleet/internal/tenant"
)

const (
	// DefaultRefreshThreshold refreshes tokens that expire within five
	// minutes.
	DefaultRefreshThreshold = 5 * time.Minute

	// DefaultRefreshTimeout bounds one call to the token endpoint.
	DefaultRefreshTimeout = 30 * time.Second

	opBuildContext = "session.build_context"
	opRefresh      = "session.refresh_token"
)

// Config configures a Resolver.
type Config struct {
	Store    *tenant.Store
	Limiters *ratelimit.Registry
	Policy   retry.Policy

	RefreshThreshold time.Duration
	RefreshTimeout   time.Duration

	// HTTPClient is the base transport for the token endpoint and the
	// remote APIs. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Endpoints overrides the base URL per API kind.
	Endpoints map[string]string

	// MaxPages bounds paginated listings. Zero keeps each client's default.
	MaxPages int
	// PageSize applies to the leads API. Zero keeps its default.
	PageSize int

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
	Now     func() time.Time
}

// Resolver builds TenantContexts from session tokens. It is safe for
// concurrent use.
type Resolver struct {
	cfg     Config
	logger  *slog.Logger
	refresh singleflight.Group
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session resolver requires a tenant store")
	}
	if cfg.Limiters == nil {
		return nil, fmt.Errorf("session resolver requires a rate limiter registry")
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{cfg: cfg, logger: logging.OrDefault(cfg.Logger)}, nil
}

// BuildContext resolves token to its tenant, refreshes the OAuth token when
// it is expired or about to expire, and returns clients scoped to the
// tenant.
//
// Unknown or expired sessions yield an auth_error. A credential that cannot
// be parsed yields corrupt_credentials, and a token that cannot be
// refreshed yields refresh_error.
func (r *Resolver) BuildContext(ctx context.Context, token string) (*TenantContext, error) {
	t, err := r.cfg.Store.GetTenantBySession(ctx, token)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			r.cfg.Metrics.RecordSessionResolution(ctx, instrumentation.SessionRejected)
			r.cfg.Audit.SessionRejected(ctx, "", "unknown or expired session")
			return nil, apperrors.New(apperrors.KindAuth, opBuildContext, "invalid or expired session token")
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	logger := r.logger.With(logging.TenantID(t.ID))

	cred, err := r.cfg.Store.OAuthCredential(t)
	if err != nil {
		r.cfg.Metrics.RecordSessionResolution(ctx, instrumentation.SessionCorrupt)
		r.cfg.Audit.SessionRejected(ctx, t.ID, string(apperrors.KindOf(err)))
		logger.Error("stored credential is unusable", logging.Err(err))
		return nil, err
	}

	if cred.ExpiredAt(r.cfg.Now(), r.cfg.RefreshThreshold) {
		refreshed, err := r.refreshShared(ctx, t, cred)
		switch {
		case err == nil:
			cred = refreshed
		case !cred.ExpiredAt(r.cfg.Now(), 0) && transientRefreshFailure(err):
			// The current token is still valid, the next request retries.
			logger.Warn("early token refresh failed, using current token",
				slog.Time("expiry", cred.Expiry), logging.Err(err))
		default:
			r.cfg.Metrics.RecordSessionResolution(ctx, instrumentation.SessionRejected)
			return nil, err
		}
	}

	secondary, hasSecondary, err := r.cfg.Store.SecondaryKey(t)
	if err != nil {
		// The Google clients still work without the leads key.
		logger.Warn("failed to decrypt secondary key", logging.Err(err))
		hasSecondary = false
	}

	tc, err := r.newTenantContext(ctx, t, cred, secondary, hasSecondary)
	if err != nil {
		return nil, err
	}

	r.cfg.Metrics.RecordSessionResolution(ctx, instrumentation.SessionResolved)
	r.cfg.Audit.SessionResolved(ctx, t.ID, t.Email)
	return tc, nil
}

// refreshShared refreshes the tenant's token once for all concurrent
// callers. Each caller gets its own copy of the result.
func (r *Resolver) refreshShared(ctx context.Context, t *tenant.Tenant, cred *credential.Credential) (*credential.Credential, error) {
	if !cred.HasRefreshToken() {
		r.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshNoToken)
		err := apperrors.New(apperrors.KindRefresh, opRefresh, "access token expired and no refresh token is stored")
		r.cfg.Audit.TokenRefreshed(ctx, t.ID, t.Email, err)
		return nil, err
	}

	ch := r.refresh.DoChan(t.ID, func() (any, error) {
		// Detached so one caller going away does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RefreshTimeout)
		defer cancel()
		return r.refreshToken(rctx, t, cred)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credential.Credential).Clone(), nil
	}
}

func (r *Resolver) refreshToken(ctx context.Context, t *tenant.Tenant, cred *credential.Credential) (*credential.Credential, error) {
	logger := r.logger.With(logging.TenantID(t.ID), logging.Operation(opRefresh))
	start := time.Now()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.cfg.HTTPClient)
	src := cred.OAuth2Config().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		r.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshFailure)
		refreshErr := apperrors.Wrap(apperrors.KindRefresh, opRefresh, err)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			refreshErr.Status = re.Response.StatusCode
		}
		r.cfg.Audit.TokenRefreshed(ctx, t.ID, t.Email, refreshErr)
		logger.Warn("token refresh failed", logging.Duration(time.Since(start)), logging.Err(err))
		return nil, refreshErr
	}

	next := cred.WithRefreshedToken(tok, r.cfg.Now())
	if err := r.cfg.Store.UpdateOAuthToken(ctx, t.ID, next); err != nil {
		// The fresh token is still good for this request.
		logger.Warn("failed to persist refreshed token", logging.Err(err))
	}

	r.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshSuccess)
	r.cfg.Audit.TokenRefreshed(ctx, t.ID, t.Email, nil)
	logger.Info("refreshed oauth token", logging.Duration(time.Since(start)), slog.Time("expiry", next.Expiry))
	return next, nil
}

// transientRefreshFailure reports whether a refresh error says nothing about
// the validity of the grant: a network failure, throttling or a server
// error at the token endpoint.
func transientRefreshFailure(err error) bool {
	var ae *apperrors.Error
	if !errors.As(err, &ae) || ae.Kind != apperrors.KindRefresh {
		return false
	}
	return ae.Status == 0 || ae.Status == http.StatusTooManyRequests || ae.Status >= http.StatusInternalServerError
}

func (r *Resolver) newTenantContext(ctx context.Context, t *tenant.Tenant, cred *credential.Credential, secondary string, hasSecondary bool) (*TenantContext, error) {
	// The OAuth transport only wraps the base client, it never refreshes:
	// refreshing is the resolver's job.
	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, r.cfg.HTTPClient),
		oauth2.StaticTokenSource(cred.OAuth2Token()))

	tc := &TenantContext{TenantID: t.ID, Email: t.Email}
	tc.SetCredential(cred)

	gm, err := gmail.New(ctx, hc, r.executor(t.ID, KindGmail), r.googleOptions(KindGmail)...)
	if err != nil {
		return nil, err
	}
	tc.Gmail = gm.WithMaxPages(r.cfg.MaxPages)

	if tc.Calendar, err = calendar.New(ctx, hc, r.executor(t.ID, KindCalendar), r.googleOptions(KindCalendar)...); err != nil {
		return nil, err
	}
	if tc.Meet, err = meet.New(ctx, hc, r.executor(t.ID, KindMeet), r.googleOptions(KindMeet)...); err != nil {
		return nil, err
	}

	if hasSecondary {
		tc.Leads, err = leads.New(secondary, r.executor(t.ID, KindLeads),
			leads.WithBaseURL(r.cfg.Endpoints[KindLeads]),
			leads.WithHTTPClient(r.cfg.HTTPClient),
			leads.WithPaging(r.cfg.PageSize, r.cfg.MaxPages),
		)
		if err != nil {
			return nil, err
		}
	}
	return tc, nil
}

func (r *Resolver) executor(tenantID, kind string) *retry.Executor {
	return retry.New(r.cfg.Limiters.Scoped(tenantID, kind), r.cfg.Policy,
		retry.WithScope(kind, tenantID),
		retry.WithLogger(r.logger),
		retry.WithMetrics(r.cfg.Metrics),
	)
}

func (r *Resolver) googleOptions(kind string) []option.ClientOption {
	if ep, ok := r.cfg.Endpoints[kind]; ok && ep != "" {
		return []option.ClientOption{option.WithEndpoint(ep)}
	}
	return nil
}
