// Package backup periodically copies the primary store into a backup store.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/stats"
)

type Config struct {
	Dialect database.Dialect
	DSN     string
	// Interval between cycles. Zero or less disables replication.
	Interval time.Duration
	// Timeout bounds a single cycle.
	Timeout time.Duration
}

// Replicator copies a consistent snapshot of the primary into the backup
// target on every tick. A failed cycle is logged and retried on the next
// tick; it never stops the replicator.
type Replicator struct {
	log    *log.Logger
	source *database.Store
	cfg    Config
	stats  stats.StatsProvider
}

func NewReplicator(logger *log.Logger, source *database.Store, cfg Config, su stats.StatsProvider) *Replicator {
	return &Replicator{
		log:    logger,
		source: source,
		cfg:    cfg,
		stats:  su,
	}
}

// Run replicates until ctx is cancelled.
func (r *Replicator) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		r.log.Println("backup replication disabled")
		return
	}

	r.log.Printf("backup replication every %s", r.cfg.Interval)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Replicator) runCycle(ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Printf("backup cycle panic: %v", err)
			r.stats.Incr(stats.BackupFailures)
		}
	}()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	r.stats.Incr(stats.BackupCycles)
	if err := r.RunOnce(ctx); err != nil {
		r.stats.Incr(stats.BackupFailures)
		r.log.Printf("backup cycle failed: %v", err)
		return
	}

	r.log.Printf("backup cycle completed in %s", time.Since(start).Round(time.Millisecond))
}

// RunOnce replaces the target's contents with a snapshot of the source.
// The target is left unchanged when the copy fails.
func (r *Replicator) RunOnce(ctx context.Context) error {
	if err := database.EnsureDatabase(ctx, r.cfg.Dialect, r.cfg.DSN); err != nil {
		return fmt.Errorf("provision target: %w", err)
	}

	target, err := database.Open(ctx, r.cfg.Dialect, r.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer target.Close()

	snap, err := r.source.BeginSnapshot(ctx)
	if err != nil {
		return err
	}
	defer snap.Close()

	tx, err := target.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := len(database.Tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+database.Tables[i].Name); err != nil {
			return fmt.Errorf("clear %s: %w", database.Tables[i].Name, err)
		}
	}

	for _, t := range database.Tables {
		n, err := copyTable(ctx, snap, tx, target, t)
		if err != nil {
			return fmt.Errorf("copy %s: %w", t.Name, err)
		}
		if err := target.ResetSequence(ctx, tx, t); err != nil {
			return err
		}
		r.log.Printf("backup: copied %d rows of %s", n, t.Name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backup: %w", err)
	}

	return snap.Close()
}

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func copyTable(ctx context.Context, snap *database.Snapshot, tx preparer, target *database.Store, t database.Table) (int, error) {
	cols := strings.Join(t.Columns, ", ")
	rows, err := snap.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", cols, t.Name, t.Columns[0]))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, target.Rebind(
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, cols, placeholders)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	values := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		for i, v := range values {
			// drivers hand text back as bytes
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return n, err
		}
		n++
	}

	return n, errors.Join(rows.Err(), rows.Close())
}
