package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/session"
)

func TestTenantContextPrefersRequestTenant(t *testing.T) {
	resolver := newFakeResolver()
	sc := NewServerContext(context.Background(), Config{Resolver: resolver, SessionToken: "sess_alice"})

	tc := &session.TenantContext{TenantID: "from-request"}
	got, err := sc.TenantContext(session.WithTenantContext(context.Background(), tc))
	require.NoError(t, err)
	assert.Same(t, tc, got)
	assert.Empty(t, resolver.seen)
}

func TestTenantContextResolvesConfiguredToken(t *testing.T) {
	resolver := newFakeResolver()
	sc := NewServerContext(context.Background(), Config{Resolver: resolver, SessionToken: "sess_alice"})

	got, err := sc.TenantContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tenant-alice", got.TenantID)

	// Every call resolves again so refreshed credentials are picked up.
	_, err = sc.TenantContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_alice", "sess_alice"}, resolver.seen)
}

func TestTenantContextWithoutToken(t *testing.T) {
	sc := NewServerContext(context.Background(), Config{Resolver: newFakeResolver()})
	_, err := sc.TenantContext(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestShutdownIsIdempotent(t *testing.T) {
	sc := NewServerContext(context.Background(), Config{})
	assert.False(t, sc.IsShutdown())
	require.NoError(t, sc.Shutdown())
	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	assert.Error(t, sc.Context().Err())
}
