package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxfleet/internal/secret"
)

func validEnv(t *testing.T) map[string]string {
	t.Helper()
	key, err := secret.GenerateKey()
	require.NoError(t, err)
	return map[string]string{"INBOXFLEET_ENCRYPTION_KEY": secret.KeyToBase64(key)}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(validEnv(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2160*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryAttemptTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshThreshold)
	assert.Equal(t, time.Hour, cfg.PurgeInterval)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 50, cfg.MaxPages)
	assert.Empty(t, cfg.Endpoints())
}

func TestLoadOverrides(t *testing.T) {
	environ := validEnv(t)
	environ["INBOXFLEET_DB_DRIVER"] = "postgres"
	environ["INBOXFLEET_DB_DSN"] = "postgres://localhost/inboxfleet"
	environ["INBOXFLEET_RATE_LIMIT_LEADS"] = "10"
	environ["INBOXFLEET_RATE_LIMIT_WINDOW"] = "10s"
	environ["INBOXFLEET_RETRY_MAX_ATTEMPTS"] = "5"
	environ["INBOXFLEET_LEADS_BASE_URL"] = "https://leads.example.com"

	cfg, err := LoadFrom(environ)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 10, cfg.RateLimits.Leads)
	assert.Equal(t, 250, cfg.RateLimits.Gmail)

	reg := cfg.RegistryConfig()
	assert.Equal(t, 10*time.Second, reg.Window)
	assert.Equal(t, 10, reg.Limits["leads"])

	policy := cfg.RetryPolicy()
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, map[string]string{"leads": "https://leads.example.com"}, cfg.Endpoints())
}

func TestLoadInvalidValue(t *testing.T) {
	environ := validEnv(t)
	environ["INBOXFLEET_SESSION_TTL"] = "forever"
	_, err := LoadFrom(environ)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "missing key", mutate: func(c *Config) { c.EncryptionKey = "" }, wantErr: "ENCRYPTION_KEY is required"},
		{name: "short key", mutate: func(c *Config) { c.EncryptionKey = "c2hvcnQ=" }, wantErr: "invalid INBOXFLEET_ENCRYPTION_KEY"},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: "invalid database driver"},
		{name: "empty dsn", mutate: func(c *Config) { c.DBDSN = "" }, wantErr: "DB_DSN is required"},
		{name: "zero ttl", mutate: func(c *Config) { c.SessionTTL = 0 }, wantErr: "session TTL must be positive"},
		{name: "zero limit", mutate: func(c *Config) { c.RateLimits.Meet = 0 }, wantErr: "rate limit for meet"},
		{name: "zero attempts", mutate: func(c *Config) { c.RetryMaxAttempts = 0 }, wantErr: "retry max attempts"},
		{name: "insecure leads url", mutate: func(c *Config) { c.LeadsBaseURL = "http://leads.example.com" }, wantErr: "LEADS_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(validEnv(t))
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "https", baseURL: "https://api.example.com", wantErr: false},
		{name: "https with port", baseURL: "https://api.example.com:8443", wantErr: false},
		{name: "http localhost", baseURL: "http://localhost:8080", wantErr: false},
		{name: "http 127.0.0.1", baseURL: "http://127.0.0.1:8080", wantErr: false},
		{name: "http ipv6 loopback", baseURL: "http://[::1]:8080", wantErr: false},
		{name: "http remote host", baseURL: "http://api.example.com", wantErr: true},
		{name: "ftp scheme", baseURL: "ftp://api.example.com", wantErr: true},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "no host", baseURL: "https://", wantErr: true},
		{name: "unparseable", baseURL: "https://exa mple.com/%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
