package tenant

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/secret"
	"github.com/teemow/inboxfleet/internal/storage"
	"github.com/teemow/inboxfleet/internal/tenant/migrations"
)

// SessionTokenPrefix marks session tokens so they are recognisable in
// configuration and support requests.
const SessionTokenPrefix = "sess_"

// DefaultSessionTTL is the session horizon set on every consent.
const DefaultSessionTTL = 90 * 24 * time.Hour

// sessionTokenBytes gives 256 bits of entropy.
const sessionTokenBytes = 32

// ErrNotFound is returned when no live tenant row matches.
var ErrNotFound = errors.New("tenant not found")

// Tenant is one end user. Secrets stay encrypted on the struct and are only
// decrypted on demand through the Store.
type Tenant struct {
	ID                    string
	Email                 string
	EncryptedOAuthToken   string
	OAuthExpiry           time.Time
	EncryptedSecondaryKey string
	HasSecondaryKey       bool
	SessionToken          string
	SessionExpiry         time.Time
	CreatedAt             time.Time
	LastLogin             time.Time
	LastActive            time.Time
}

// Session is returned by CreateOrUpdateTenant.
type Session struct {
	TenantID     string
	SessionToken string
	ExpiresAt    time.Time
}

// Store persists tenants. Every mutating call is a single row write.
// A Store is safe for concurrent use.
type Store struct {
	db         *storage.DB
	cipher     *secret.Cipher
	logger     *slog.Logger
	now        func() time.Time
	sessionTTL time.Duration
	newID      func() string
	newToken   func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.OrDefault(logger) }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewStore wraps an open database, applying the tenant schema.
func NewStore(ctx context.Context, db *storage.DB, cipher *secret.Cipher, opts ...Option) (*Store, error) {
	if db == nil || db.DB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if cipher == nil {
		return nil, apperrors.New(apperrors.KindKeyMissing, "tenant.new_store", "cipher is required")
	}

	s := &Store{
		db:         db,
		cipher:     cipher,
		logger:     slog.Default(),
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		newID:      uuid.NewString,
		newToken:   NewSessionToken,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := storage.ApplyMigrations(ctx, db, migrations.FS, "."); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NewSessionToken returns "sess_" followed by 256 random bits, base64url.
func NewSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return SessionTokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateOrUpdateTenant stores a tenant's credential after a successful
// consent, keyed by email. An existing row is updated in place and its
// session token rotated. A nil secondaryKey keeps any stored key.
func (s *Store) CreateOrUpdateTenant(ctx context.Context, email string, cred *credential.Credential, secondaryKey *string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if cred == nil {
		return nil, fmt.Errorf("oauth credential is required")
	}

	blob, err := cred.Marshal()
	if err != nil {
		return nil, err
	}
	encToken, err := s.cipher.Encrypt(blob)
	if err != nil {
		return nil, err
	}
	var encKey sql.NullString
	if secondaryKey != nil {
		v, err := s.cipher.Encrypt(*secondaryKey)
		if err != nil {
			return nil, err
		}
		encKey = sql.NullString{String: v, Valid: true}
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.sessionTTL)

	var id string
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`
INSERT INTO tenants (
	id, email, encrypted_oauth_token, oauth_expiry, encrypted_secondary_key,
	session_token, session_expiry, created_at, last_login, last_active
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (email) DO UPDATE SET
	encrypted_oauth_token = excluded.encrypted_oauth_token,
	oauth_expiry = excluded.oauth_expiry,
	encrypted_secondary_key = COALESCE(excluded.encrypted_secondary_key, tenants.encrypted_secondary_key),
	session_token = excluded.session_token,
	session_expiry = excluded.session_expiry,
	last_login = excluded.last_login,
	last_active = excluded.last_active
RETURNING id`),
		s.newID(),
		email,
		encToken,
		nullMillis(cred.ExpiryFrom(now)),
		encKey,
		token,
		storage.ToMillis(expiresAt),
		storage.ToMillis(now),
		storage.ToMillis(now),
		storage.ToMillis(now),
	).Scan(&id)
	if err != nil {
		return nil, s.wrapWriteErr("tenant.create_or_update", err)
	}

	s.logger.Info("tenant session issued",
		logging.Operation("tenant.create_or_update"),
		logging.TenantID(id),
		logging.UserHash(email),
		slog.Time("session_expiry", expiresAt),
	)

	return &Session{TenantID: id, SessionToken: token, ExpiresAt: expiresAt}, nil
}

const selectTenant = `
SELECT id, email, encrypted_oauth_token, oauth_expiry, encrypted_secondary_key,
	session_token, session_expiry, created_at, last_login, last_active
FROM tenants`

// GetTenantBySession looks a tenant up by exact session token. Sessions
// whose expiry is at or before now are reported as ErrNotFound. On success
// last_active is touched.
func (s *Store) GetTenantBySession(ctx context.Context, sessionToken string) (*Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionToken == "" {
		return nil, ErrNotFound
	}

	t, err := s.scanOne(ctx, selectTenant+" WHERE session_token = ?", sessionToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !t.SessionExpiry.After(now) {
		s.logger.Warn("expired session presented",
			logging.TenantID(t.ID),
			logging.UserHash(t.Email),
			slog.Time("session_expiry", t.SessionExpiry),
		)
		return nil, ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE tenants SET last_active = ? WHERE id = ?"),
		storage.ToMillis(now), t.ID); err != nil {
		s.logger.Warn("failed to touch last_active", logging.TenantID(t.ID), logging.Err(err))
	} else {
		t.LastActive = storage.FromMillis(storage.ToMillis(now))
	}

	return t, nil
}

// GetTenantByEmail looks a tenant up by email without checking the session.
func (s *Store) GetTenantByEmail(ctx context.Context, email string) (*Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.scanOne(ctx, selectTenant+" WHERE email = ?", normalizeEmail(email))
}

// UpdateSecondaryKey sets the secondary API key; nil removes it.
func (s *Store) UpdateSecondaryKey(ctx context.Context, tenantID string, value *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var enc sql.NullString
	if value != nil {
		v, err := s.cipher.Encrypt(*value)
		if err != nil {
			return err
		}
		enc = sql.NullString{String: v, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE tenants SET encrypted_secondary_key = ? WHERE id = ?"), enc, tenantID)
	if err != nil {
		return s.wrapWriteErr("tenant.update_secondary_key", err)
	}
	return requireRow(res)
}

// UpdateOAuthToken re-encrypts cred and recomputes the stored expiry.
func (s *Store) UpdateOAuthToken(ctx context.Context, tenantID string, cred *credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred == nil {
		return fmt.Errorf("oauth credential is required")
	}

	blob, err := cred.Marshal()
	if err != nil {
		return err
	}
	enc, err := s.cipher.Encrypt(blob)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE tenants SET encrypted_oauth_token = ?, oauth_expiry = ? WHERE id = ?"),
		enc, nullMillis(cred.ExpiryFrom(s.now())), tenantID)
	if err != nil {
		return s.wrapWriteErr("tenant.update_oauth_token", err)
	}
	return requireRow(res)
}

// PurgeExpiredSessions deletes every tenant whose session expired at or
// before now and returns the number removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM tenants WHERE session_expiry <= ?"), storage.ToMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired sessions", logging.Operation("tenant.purge"), slog.Int64("count", n))
	}
	return n, nil
}

// DeleteTenant removes a tenant.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM tenants WHERE id = ?"), tenantID)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	s.logger.Info("tenant deleted", logging.Operation("tenant.delete"), logging.TenantID(tenantID))
	return nil
}

// CountActiveSessions returns the number of tenants with a live session.
func (s *Store) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT COUNT(*) FROM tenants WHERE session_expiry > ?"),
		storage.ToMillis(s.now())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

// OAuthCredential decrypts and parses the tenant's credential blob. The
// oauth_expiry column, computed when the token was written, is the
// authoritative expiry.
func (s *Store) OAuthCredential(t *Tenant) (*credential.Credential, error) {
	blob, err := s.cipher.Decrypt(t.EncryptedOAuthToken)
	if err != nil {
		return nil, err
	}
	cred, err := credential.Parse(blob)
	if err != nil {
		return nil, err
	}
	if !t.OAuthExpiry.IsZero() {
		cred.Expiry = t.OAuthExpiry
	}
	return cred, nil
}

// SecondaryKey decrypts the tenant's secondary API key. ok is false when
// no key is stored.
func (s *Store) SecondaryKey(t *Tenant) (key string, ok bool, err error) {
	if !t.HasSecondaryKey {
		return "", false, nil
	}
	key, err = s.cipher.Decrypt(t.EncryptedSecondaryKey)
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*Tenant, error) {
	var (
		t             Tenant
		oauthExpiry   sql.NullInt64
		secondaryKey  sql.NullString
		sessionExpiry int64
		createdAt     int64
		lastLogin     int64
		lastActive    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(
		&t.ID,
		&t.Email,
		&t.EncryptedOAuthToken,
		&oauthExpiry,
		&secondaryKey,
		&t.SessionToken,
		&sessionExpiry,
		&createdAt,
		&lastLogin,
		&lastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	t.OAuthExpiry = storage.NullMillis(oauthExpiry)
	t.EncryptedSecondaryKey = secondaryKey.String
	t.HasSecondaryKey = secondaryKey.Valid
	t.SessionExpiry = storage.FromMillis(sessionExpiry)
	t.CreatedAt = storage.FromMillis(createdAt)
	t.LastLogin = storage.FromMillis(lastLogin)
	t.LastActive = storage.NullMillis(lastActive)
	return &t, nil
}

func (s *Store) wrapWriteErr(op string, err error) error {
	if isUniqueViolation(err) {
		return apperrors.Wrap(apperrors.KindIntegrity, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: storage.ToMillis(t), Valid: true}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
