package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/teemow/inboxfleet/internal/ratelimit"
	"github.com/teemow/inboxfleet/internal/retry"
	"github.com/teemow/inboxfleet/internal/secret"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/storage"
)

// Config is the runtime configuration.
type Config struct {
	// EncryptionKey is the base64 encoded 32 byte key protecting stored
	// credentials.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	// DBDSN is a file path for sqlite and a connection string for postgres.
	DBDSN string `env:"DB_DSN" envDefault:"inboxfleet.db"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"2160h"`
	// SessionToken selects the tenant for the stdio transport.
	SessionToken string `env:"SESSION_TOKEN"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimits      RateLimits

	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay       time.Duration `env:"RETRY_MAX_DELAY" envDefault:"60s"`
	RetryAttemptTimeout time.Duration `env:"RETRY_ATTEMPT_TIMEOUT" envDefault:"30s"`

	TokenRefreshThreshold time.Duration `env:"TOKEN_REFRESH_THRESHOLD" envDefault:"5m"`
	PurgeInterval         time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`

	// LeadsBaseURL overrides the outreach API host.
	LeadsBaseURL string `env:"LEADS_BASE_URL"`
	PageSize     int    `env:"PAGE_SIZE" envDefault:"100"`
	MaxPages     int    `env:"MAX_PAGES" envDefault:"50"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// RateLimits holds the requests allowed per window for each API kind.
type RateLimits struct {
	Gmail    int `env:"RATE_LIMIT_GMAIL" envDefault:"250"`
	Calendar int `env:"RATE_LIMIT_CALENDAR" envDefault:"100"`
	Meet     int `env:"RATE_LIMIT_MEET" envDefault:"60"`
	Leads    int `env:"RATE_LIMIT_LEADS" envDefault:"60"`
}

// Prefix is prepended to every variable name.
const Prefix = "INBOXFLEET_"

// Load reads Config from the environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads Config from environ instead of the process environment
// when environ is non-nil.
func LoadFrom(environ map[string]string) (Config, error) {
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration needed to open the credential store.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("%sENCRYPTION_KEY is required, generate one with 'inboxfleet keygen'", Prefix)
	}
	if _, err := secret.KeyFromBase64(c.EncryptionKey); err != nil {
		return fmt.Errorf("invalid %sENCRYPTION_KEY: %w", Prefix, err)
	}

	switch storage.Dialect(c.DBDriver) {
	case storage.DialectSQLite, storage.DialectPostgres:
	default:
		return fmt.Errorf("invalid database driver %q, must be one of: sqlite, postgres", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("%sDB_DSN is required", Prefix)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.SessionTTL)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimitWindow)
	}
	for kind, n := range c.RateLimits.ByKind() {
		if n <= 0 {
			return fmt.Errorf("rate limit for %s must be positive, got %d", kind, n)
		}
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.PageSize < 1 || c.MaxPages < 1 {
		return fmt.Errorf("page size and max pages must be at least 1")
	}

	if c.LeadsBaseURL != "" {
		if err := ValidateBaseURL(c.LeadsBaseURL); err != nil {
			return fmt.Errorf("invalid %sLEADS_BASE_URL: %w", Prefix, err)
		}
	}
	return nil
}

// ByKind maps each API kind to its limit.
func (r RateLimits) ByKind() map[string]int {
	return map[string]int{
		session.KindGmail:    r.Gmail,
		session.KindCalendar: r.Calendar,
		session.KindMeet:     r.Meet,
		session.KindLeads:    r.Leads,
	}
}

// RegistryConfig returns the limiter registry settings.
func (c *Config) RegistryConfig() ratelimit.RegistryConfig {
	return ratelimit.RegistryConfig{
		DefaultMax: c.RateLimits.Gmail,
		Limits:     c.RateLimits.ByKind(),
		Window:     c.RateLimitWindow,
	}
}

// RetryPolicy returns the retry policy for remote calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.RetryMaxAttempts,
		BaseDelay:      c.RetryBaseDelay,
		MaxDelay:       c.RetryMaxDelay,
		AttemptTimeout: c.RetryAttemptTimeout,
	}
}

// Endpoints returns the per kind base URL overrides.
func (c *Config) Endpoints() map[string]string {
	ep := map[string]string{}
	if c.LeadsBaseURL != "" {
		ep[session.KindLeads] = c.LeadsBaseURL
	}
	return ep
}

// ValidateBaseURL accepts https URLs, and plain http only for loopback
// hosts.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("plain HTTP is only allowed for localhost (got: %s), API keys would travel unencrypted", baseURL)
		}
	default:
		return fmt.Errorf("invalid URL scheme: %q. Must be http (localhost only) or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q has no host", baseURL)
	}
	return nil
}
