// Package storage opens the relational database backing the tenant store
// and applies its embedded schema migrations.
//
// Two backends are supported through database/sql: SQLite (modernc.org/sqlite,
// the default, pure Go) and PostgreSQL (pgx stdlib driver). Queries are
// written with SQLite-style "?" placeholders and rebound for PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

// DB is a database handle that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens and pings the database. For SQLite, dsn is a file path; for
// PostgreSQL it is a connection string understood by pgx.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		driverName string
		source     string
	)
	switch dialect {
	case DialectSQLite, "":
		dialect = DialectSQLite
		driverName = "sqlite"
		source = sqliteDSN(dsn)
	case DialectPostgres:
		driverName = "pgx"
		source = dsn
	default:
		return nil, fmt.Errorf("unsupported database driver %q, must be one of: sqlite, postgres", dialect)
	}

	sqlDB, err := sql.Open(driverName, source)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite serialises writers; a small pool avoids SQLITE_BUSY churn.
		sqlDB.SetMaxOpenConns(4)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	return &DB{DB: sqlDB, Dialect: dialect}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Rebind rewrites "?" placeholders into the dialect's bind syntax.
func (d *DB) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "?") {
			return path + "&" + sqlitePragmas
		}
		return path + "?" + sqlitePragmas
	}
	return filepath.Clean(path) + "?" + sqlitePragmas
}

// ToMillis converts a time to the stored representation.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts a stored value back to a time.
func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// NullMillis converts a nullable stored value.
func NullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return FromMillis(v.Int64)
}
