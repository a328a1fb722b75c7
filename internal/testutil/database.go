package testutil

import (
	"testing"

	"medup/internal/config"
	"medup/internal/database"
	"medup/internal/dedup"
)

// NewTestDatabase opens a migrated in-memory session store through the
// same factory the app uses. It is closed when t finishes.
func NewTestDatabase(t *testing.T) dedup.Database {
	t.Helper()
	db, err := database.NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("NewDatabaseFromConfig(memory) error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
