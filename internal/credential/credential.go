// Package credential reconstructs OAuth credentials from the authorized-user
// JSON blob kept (encrypted) in the tenant store.
package credential

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxfleet/internal/apperrors"
)

// DefaultTokenURI is used when a blob omits token_uri.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// Credential is the in-memory form of a tenant's OAuth grant.
// It is owned by a single request and never persisted in this form.
type Credential struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry,omitzero"`
	// ExpiresIn is the lifetime in seconds reported by the provider at
	// issue time. When set it takes precedence over Expiry for the stored
	// oauth_expiry column.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// Parse decodes and validates a blob. Missing client id, client secret or
// access token yields CorruptCredentials.
func Parse(blob string) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptCredentials, "credential.parse", err)
	}

	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return nil, apperrors.New(apperrors.KindCorruptCredentials, "credential.parse",
			"missing "+strings.Join(missing, ", "))
	}

	if c.TokenURI == "" {
		c.TokenURI = DefaultTokenURI
	}
	c.Scopes = NormalizeScopes(c.Scopes)
	return &c, nil
}

// Marshal encodes the credential as a blob.
func (c *Credential) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential: %w", err)
	}
	return string(data), nil
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// HasRefreshToken reports whether the credential can be refreshed.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// ExpiredAt reports whether the access token is expired at now, treating a
// token that expires within threshold as already expired. A zero Expiry
// never expires.
func (c *Credential) ExpiredAt(now time.Time, threshold time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(threshold).Before(c.Expiry)
}

// OAuth2Token converts the credential into an oauth2 token.
func (c *Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.Token,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// OAuth2Config returns the client configuration used for refreshes.
func (c *Credential) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.TokenURI,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: slices.Clone(c.Scopes),
	}
}

// WithRefreshedToken returns a copy carrying the token issued by a refresh.
// The originally granted scopes are kept regardless of what the refresh
// response reported.
func (c *Credential) WithRefreshedToken(tok *oauth2.Token, now time.Time) *Credential {
	next := c.Clone()
	next.Token = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.Expiry = tok.Expiry
	next.ExpiresIn = 0
	if !tok.Expiry.IsZero() {
		next.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	return next
}

// ExpiryFrom computes the stored expiry for a freshly issued credential.
func (c *Credential) ExpiryFrom(now time.Time) time.Time {
	if c.ExpiresIn > 0 {
		return now.Add(time.Duration(c.ExpiresIn) * time.Second)
	}
	return c.Expiry
}

// NormalizeScopes trims, de-duplicates and sorts scopes.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
