package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"
)

const maintenanceDatabase = "postgres"

// EnsureDatabase creates the database a DSN points at when it does not exist
// yet. For sqlite this is the parent directory of the database file, the file
// itself is created on open. Postgres databases are created through the
// maintenance database; only URL style DSNs name a database to create.
func EnsureDatabase(ctx context.Context, dialect Dialect, dsn string) error {
	switch dialect {
	case SQLite:
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" || path == ":memory:" {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
		return nil
	case Postgres:
		return ensurePostgresDatabase(ctx, dsn)
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func ensurePostgresDatabase(ctx context.Context, dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return nil
	}

	name := strings.TrimPrefix(u.Path, "/")
	if name == "" || name == maintenanceDatabase {
		return nil
	}

	maint := *u
	maint.Path = "/" + maintenanceDatabase

	db, err := sql.Open(string(Postgres), maint.String())
	if err != nil {
		return fmt.Errorf("open maintenance database: %w", err)
	}
	defer db.Close()

	var exists bool
	if err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name,
	).Scan(&exists); err != nil {
		return storageErr("lookup database", err)
	}
	if exists {
		return nil
	}

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		var pqErr *pq.Error
		// 42P04: duplicate_database, lost a race with another creator
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return storageErr("create database", err)
	}

	return nil
}
