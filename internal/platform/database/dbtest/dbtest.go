// Package dbtest opens migrated in-memory directory stores for tests.
package dbtest

import (
	"context"
	"testing"

	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/database"
)

func Open(t testing.TB) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{URL: "file::memory:"})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
