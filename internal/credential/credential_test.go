package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxfleet/internal/apperrors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		blob        string
		wantErr     bool
		wantMissing string
	}{
		{
			name: "complete",
			blob: `{"token":"at","refresh_token":"rt","client_id":"cid","client_secret":"cs","scopes":["b","a","a"]}`,
		},
		{
			name: "empty refresh token is allowed",
			blob: `{"token":"at","refresh_token":"","client_id":"cid","client_secret":"cs"}`,
		},
		{
			name:        "missing client secret",
			blob:        `{"token":"at","client_id":"cid"}`,
			wantErr:     true,
			wantMissing: "client_secret",
		},
		{
			name:        "missing token",
			blob:        `{"client_id":"cid","client_secret":"cs"}`,
			wantErr:     true,
			wantMissing: "token",
		},
		{
			name:    "not json",
			blob:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.blob)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrCorruptCredentials)
				if tt.wantMissing != "" {
					assert.Contains(t, err.Error(), tt.wantMissing)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTokenURI, c.TokenURI)
		})
	}
}

func TestParseNormalizesScopes(t *testing.T) {
	c, err := Parse(`{"token":"at","client_id":"cid","client_secret":"cs","scopes":["b"," a ","b"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Scopes)
}

func TestExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := &Credential{Expiry: now}
	assert.True(t, c.ExpiredAt(now, 0), "expiry equal to now is expired")
	assert.False(t, c.ExpiredAt(now.Add(-time.Second), 0))
	assert.True(t, c.ExpiredAt(now.Add(-time.Minute), 5*time.Minute))

	noExpiry := &Credential{}
	assert.False(t, noExpiry.ExpiredAt(now, time.Hour))
}

func TestWithRefreshedTokenKeepsScopes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := &Credential{
		Token:        "old",
		RefreshToken: "rt",
		ClientID:     "cid",
		ClientSecret: "cs",
		Scopes:       []string{"gmail.modify", "calendar"},
	}

	next := orig.WithRefreshedToken(&oauth2.Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, now)

	assert.Equal(t, "new", next.Token)
	assert.Equal(t, "rt", next.RefreshToken, "refresh token kept when the response omits it")
	assert.Equal(t, orig.Scopes, next.Scopes)
	assert.Equal(t, int64(3600), next.ExpiresIn)
	assert.Equal(t, "old", orig.Token, "original is not mutated")

	next.Scopes[0] = "changed"
	assert.Equal(t, "gmail.modify", orig.Scopes[0])
}

func TestMarshalParseRoundTrip(t *testing.T) {
	orig := &Credential{
		Token:        "at",
		RefreshToken: "",
		TokenURI:     "https://example.test/token",
		ClientID:     "cid",
		ClientSecret: "cs",
		Scopes:       []string{"a"},
		Expiry:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	blob, err := orig.Marshal()
	require.NoError(t, err)

	got, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, orig.Token, got.Token)
	assert.Equal(t, orig.TokenURI, got.TokenURI)
	assert.True(t, orig.Expiry.Equal(got.Expiry))
	assert.False(t, got.HasRefreshToken())
}

func TestExpiryFrom(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), (&Credential{ExpiresIn: 3600}).ExpiryFrom(now))

	fixed := now.Add(10 * time.Minute)
	assert.Equal(t, fixed, (&Credential{Expiry: fixed}).ExpiryFrom(now))
}
