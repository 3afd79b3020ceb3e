package testutil

import (
	"net/url"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a per-test in-memory SQLite database and migrates the
// given models. Shared cache plus a single connection keeps the memory
// database alive across the goroutines a test may spawn.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	q := url.Values{}
	q.Set("mode", "memory")
	q.Set("cache", "shared")
	q.Set("_busy_timeout", "5000")
	dsn := "file:" + url.PathEscape(t.Name()) + "?" + q.Encode()

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite %q: %v", dsn, err)
	}

	conn, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if err := gdb.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate test schema: %v", err)
	}

	return gdb
}
