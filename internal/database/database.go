package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/npezzotti/galchat/internal/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// sqlitePragmas are applied to every sqlite connection unless the DSN sets
// the same pragma itself.
var sqlitePragmas = []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"}

const sqliteTxLock = "immediate"

func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(name)); d {
	case Postgres, SQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unknown database driver %q", name)
	}
}

// Store is the relational store shared by the room registry, the message log
// and the blob index.
type Store struct {
	conn    *sql.DB
	dialect Dialect
}

type openOptions struct {
	reset bool
}

type OpenOption func(*openOptions)

// WithReset drops and re-creates the schema on open.
func WithReset() OpenOption {
	return func(o *openOptions) { o.reset = true }
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...OpenOption) (*Store, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if dsn == "" {
		return nil, errors.New("empty dsn")
	}

	if dialect == SQLite {
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := &Store{conn: db, dialect: dialect}
	if err := s.migrate(o.reset); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func sqliteDSN(dsn string) (string, error) {
	path, rawQuery, _ := strings.Cut(dsn, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse sqlite dsn: %w", err)
	}

	for _, pragma := range sqlitePragmas {
		name, _, _ := strings.Cut(pragma, "(")
		if !hasPragma(query["_pragma"], name) {
			query.Add("_pragma", pragma)
		}
	}
	if query.Get("_txlock") == "" {
		query.Set("_txlock", sqliteTxLock)
	}

	return path + "?" + query.Encode(), nil
}

func hasPragma(pragmas []string, name string) bool {
	for _, p := range pragmas {
		key, _, _ := strings.Cut(p, "(")
		key, _, _ = strings.Cut(key, "=")
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return true
		}
	}
	return false
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return nil
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (s *Store) Rebind(query string) string {
	return rebind(s.dialect, query)
}

func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit", err)
	}

	return nil
}

// storageErr classifies driver errors into the shared error kinds.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrAlreadyExists),
		errors.Is(err, types.ErrStorageUnavailable), errors.Is(err, types.ErrInvalidContent):
		return fmt.Errorf("%s: %w", op, err)
	case foreignKeyViolation(err):
		return fmt.Errorf("%s: referenced row: %w", op, types.ErrNotFound)
	case unavailable(err):
		return fmt.Errorf("%s: %w: %v", op, types.ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func foreignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}

	return false
}

func unavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 53: insufficient resources, 57: operator intervention
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return true
		}
		return false
	}

	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}
