package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Table describes a relation for whole-store copies.
type Table struct {
	Name    string
	Columns []string
	// Serial tables own a generated id sequence.
	Serial bool
}

// Tables lists every relation in dependency order: a table only references
// tables listed before it.
var Tables = []Table{
	{Name: "users", Columns: []string{"id", "last_seen"}},
	{Name: "rooms", Columns: []string{"id", "name", "created_at"}},
	{Name: "blobs", Columns: []string{"id", "digest", "location", "size", "created_at"}, Serial: true},
	{Name: "memberships", Columns: []string{"id", "user_id", "room_id", "nickname", "avatar_id"}, Serial: true},
	{Name: "messages", Columns: []string{"id", "room_id", "user_id", "body", "kind", "blob_id", "created_at"}, Serial: true},
}

// Snapshot is a read-only, point-in-time view of the store.
type Snapshot struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// BeginSnapshot opens a consistent read view that does not block writers.
// Postgres uses a repeatable read, read only transaction. SQLite uses a
// deferred transaction on a dedicated connection, which in WAL mode reads a
// fixed snapshot while writers continue.
func (s *Store) BeginSnapshot(ctx context.Context) (*Snapshot, error) {
	if s.dialect == Postgres {
		tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
		if err != nil {
			return nil, storageErr("begin snapshot", err)
		}
		return &Snapshot{tx: tx}, nil
	}

	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return nil, storageErr("begin snapshot", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		conn.Close()
		return nil, storageErr("begin snapshot", err)
	}

	return &Snapshot{conn: conn}, nil
}

func (sn *Snapshot) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if sn.tx != nil {
		return sn.tx.QueryContext(ctx, query, args...)
	}
	return sn.conn.QueryContext(ctx, query, args...)
}

// Close ends the snapshot. It is safe to call more than once.
func (sn *Snapshot) Close() error {
	if sn.tx != nil {
		err := sn.tx.Rollback()
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return err
	}
	if sn.conn == nil {
		return nil
	}

	_, err := sn.conn.ExecContext(context.Background(), "ROLLBACK")
	cerr := sn.conn.Close()
	sn.conn = nil

	return errors.Join(err, cerr)
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	return tx, storageErr("begin tx", err)
}

// ResetSequence moves a serial table's id sequence past the largest stored
// id, so that rows copied with explicit ids do not collide with new ones.
// SQLite AUTOINCREMENT tracks explicit ids by itself.
func (s *Store) ResetSequence(ctx context.Context, tx *sql.Tx, t Table) error {
	if s.dialect != Postgres || !t.Serial {
		return nil
	}

	name := pq.QuoteIdentifier(t.Name)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)",
		strings.ReplaceAll(name, "'", "''"), name,
	))

	return storageErr("reset sequence "+t.Name, err)
}
