package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/ratelimit"
	"github.com/teemow/inboxfleet/internal/retry"
	"github.com/teemow/inboxfleet/internal/secret"
	"github.com/teemow/inboxfleet/internal/storage"
	"github.com/teemow/inboxfleet/internal/tenant"
)

var grantedScopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/gmail.modify",
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokenServer is a fake OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	calls  atomic.Int32
	status int
	delay  time.Duration
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		time.Sleep(ts.delay)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		// The narrower scope must not replace the stored grant.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.refreshed",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "https://www.googleapis.com/auth/gmail.readonly",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

type fixture struct {
	store    *tenant.Store
	clock    *clock
	limiters *ratelimit.Registry
	tokens   *tokenServer
	resolver *Resolver
}

func newFixture(t *testing.T, endpoints map[string]string) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DialectSQLite, filepath.Join(t.TempDir(), "tenants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key, err := secret.GenerateKey()
	require.NoError(t, err)
	cipher, err := secret.NewCipher(key)
	require.NoError(t, err)

	f := &fixture{clock: &clock{now: time.Now()}, tokens: newTokenServer(t)}
	f.store, err = tenant.NewStore(ctx, db, cipher, tenant.WithClock(f.clock.Now), tenant.WithSessionTTL(time.Hour))
	require.NoError(t, err)
	f.limiters = ratelimit.NewRegistry(ratelimit.RegistryConfig{DefaultMax: 100})

	f.resolver, err = NewResolver(Config{
		Store:     f.store,
		Limiters:  f.limiters,
		Policy:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Endpoints: endpoints,
		Now:       f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) credential(accessToken string, expiresIn time.Duration) *credential.Credential {
	return &credential.Credential{
		Token:        accessToken,
		RefreshToken: "1//refresh",
		TokenURI:     f.tokens.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       grantedScopes,
		Expiry:       f.clock.Now().Add(expiresIn),
	}
}

func (f *fixture) addTenant(t *testing.T, email string, cred *credential.Credential, secondary *string) *tenant.Session {
	t.Helper()
	s, err := f.store.CreateOrUpdateTenant(context.Background(), email, cred, secondary)
	require.NoError(t, err)
	return s
}

func TestNewResolverRequiresStoreAndLimiters(t *testing.T) {
	_, err := NewResolver(Config{})
	assert.Error(t, err)

	_, err = NewResolver(Config{Store: &tenant.Store{}})
	assert.Error(t, err)
}

func TestBuildContextRejectsUnknownAndExpiredSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.resolver.BuildContext(ctx, "sess_unknown")
	assert.ErrorIs(t, err, apperrors.ErrAuth)
	assert.True(t, apperrors.RequiresReauth(err))

	_, err = f.resolver.BuildContext(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	s := f.addTenant(t, "alice@example.com", f.credential("ya29.fresh", time.Hour), nil)
	f.clock.Advance(time.Hour)

	_, err = f.resolver.BuildContext(ctx, s.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrAuth, "session expiring exactly now is expired")
}

func TestBuildContextFreshCredential(t *testing.T) {
	f := newFixture(t, nil)
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.fresh", time.Hour), nil)

	tc, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	require.NoError(t, err)

	assert.Equal(t, s.TenantID, tc.TenantID)
	assert.Equal(t, "alice@example.com", tc.Email)
	assert.NotNil(t, tc.Gmail)
	assert.NotNil(t, tc.Calendar)
	assert.NotNil(t, tc.Meet)
	assert.Nil(t, tc.Leads)
	assert.False(t, tc.HasSecondaryKey())
	assert.Equal(t, "ya29.fresh", tc.Credential().Token)
	assert.Equal(t, int32(0), f.tokens.calls.Load())
}

func TestBuildContextRefreshesExpiringToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// Inside the five minute threshold.
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.stale", 2*time.Minute), nil)

	tc, err := f.resolver.BuildContext(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "ya29.refreshed", tc.Credential().Token)
	assert.Equal(t, int32(1), f.tokens.calls.Load())

	got, err := f.store.GetTenantBySession(ctx, s.SessionToken)
	require.NoError(t, err)
	stored, err := f.store.OAuthCredential(got)
	require.NoError(t, err)
	assert.Equal(t, "ya29.refreshed", stored.Token)
	assert.Equal(t, "1//refresh", stored.RefreshToken, "refresh token kept when the response omits it")
	assert.Equal(t, grantedScopes, stored.Scopes)
	assert.True(t, stored.Expiry.After(f.clock.Now().Add(50*time.Minute)))

	// The persisted token is fresh, so the next request does not refresh.
	_, err = f.resolver.BuildContext(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokens.calls.Load())
}

func TestBuildContextRefreshFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.status = http.StatusBadRequest
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.stale", -time.Minute), nil)

	_, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	require.ErrorIs(t, err, apperrors.ErrRefresh)
	assert.True(t, apperrors.RequiresReauth(err))

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
}

func TestBuildContextEarlyRefreshTransientFailureKeepsValidToken(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.status = http.StatusServiceUnavailable
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.still-valid", 2*time.Minute), nil)

	tc, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "ya29.still-valid", tc.Credential().Token)
	assert.Equal(t, int32(1), f.tokens.calls.Load())
}

func TestBuildContextEarlyRefreshRejectedGrantFails(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.status = http.StatusBadRequest
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.still-valid", 2*time.Minute), nil)

	_, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrRefresh)
}

func TestBuildContextExpiredTokenTransientFailureFails(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.status = http.StatusServiceUnavailable
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.stale", -time.Minute), nil)

	_, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrRefresh)
}

func TestBuildContextExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	cred := f.credential("ya29.stale", -time.Minute)
	cred.RefreshToken = ""
	s := f.addTenant(t, "alice@example.com", cred, nil)

	_, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrRefresh)
	assert.Equal(t, int32(0), f.tokens.calls.Load())
}

func TestBuildContextCorruptCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.fresh", time.Hour), nil)

	// A blob without a client secret cannot be used to refresh.
	require.NoError(t, f.store.UpdateOAuthToken(ctx, s.TenantID, &credential.Credential{Token: "ya29.x", ClientID: "client-id"}))

	_, err := f.resolver.BuildContext(ctx, s.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrCorruptCredentials)
	assert.True(t, apperrors.RequiresReauth(err))
}

func TestBuildContextConcurrentRefreshHitsTokenEndpointOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.delay = 300 * time.Millisecond
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.stale", -time.Minute), nil)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc, err := f.resolver.BuildContext(context.Background(), s.SessionToken)
			errs[i] = err
			if err == nil {
				tokens[i] = tc.Credential().Token
			}
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "ya29.refreshed", tokens[i])
	}
	assert.Equal(t, int32(1), f.tokens.calls.Load())
}

func TestBuildContextIsolatesTenants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Same OAuth client, different users.
	a := f.addTenant(t, "alice@example.com", f.credential("ya29.alice", time.Hour), nil)
	b := f.addTenant(t, "bob@example.com", f.credential("ya29.bob", time.Hour), nil)

	tcA, err := f.resolver.BuildContext(ctx, a.SessionToken)
	require.NoError(t, err)
	tcB, err := f.resolver.BuildContext(ctx, b.SessionToken)
	require.NoError(t, err)

	assert.Equal(t, "ya29.alice", tcA.Credential().Token)
	assert.Equal(t, "ya29.bob", tcB.Credential().Token)
	assert.NotSame(t, tcA.Gmail, tcB.Gmail)
	assert.NotSame(t, f.limiters.For(a.TenantID, KindGmail), f.limiters.For(b.TenantID, KindGmail))
	// gmail, calendar and meet for each tenant.
	assert.Equal(t, 6, f.limiters.Len())
}

func TestBuildContextClientsCarryTenantCredentials(t *testing.T) {
	var gmailAuth, leadsAuth atomic.Value
	api := http.NewServeMux()
	api.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		gmailAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	api.HandleFunc("GET /api/v2/emails", func(w http.ResponseWriter, r *http.Request) {
		leadsAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := newFixture(t, map[string]string{
		KindGmail: srv.URL + "/",
		KindLeads: srv.URL,
	})
	key := "lead-key"
	s := f.addTenant(t, "alice@example.com", f.credential("ya29.fresh", time.Hour), &key)

	ctx := context.Background()
	tc, err := f.resolver.BuildContext(ctx, s.SessionToken)
	require.NoError(t, err)
	require.True(t, tc.HasSecondaryKey())

	_, err = tc.Gmail.ListMessages(ctx, gmail.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ya29.fresh", gmailAuth.Load())

	_, err = tc.Leads.ListReplies(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer lead-key", leadsAuth.Load())
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	tc := &TenantContext{TenantID: "t-1"}
	got, ok := FromContext(WithTenantContext(context.Background(), tc))
	require.True(t, ok)
	assert.Same(t, tc, got)
}
