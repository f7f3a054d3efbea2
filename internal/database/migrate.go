package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// migrate brings the schema up to date. When reset is set the schema is
// dropped first, discarding all stored history.
func (s *Store) migrate(reset bool) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}

	// m.Close would also close the shared *sql.DB.
	if reset {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var drv migratedb.Driver
	switch s.dialect {
	case Postgres:
		drv, err = migratepg.WithInstance(s.conn, &migratepg.Config{})
	case SQLite:
		drv, err = migratesqlite.WithInstance(s.conn, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), drv)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return m, nil
}
