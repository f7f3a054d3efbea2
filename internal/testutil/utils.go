package testutil

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/npezzotti/galchat/internal/database"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// OpenTestDB opens a migrated sqlite store in a temporary directory.
func OpenTestDB(t *testing.T) *database.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "galchat.db")
	store, err := database.Open(context.Background(), database.SQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	return store
}
