package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens and migrates a database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenProject_CreatesStateDir(t *testing.T) {
	root := t.TempDir()

	db, err := OpenProject(root)
	if err != nil {
		t.Fatalf("OpenProject failed: %v", err)
	}
	defer db.Close()

	want := filepath.Join(root, ".stackrun", "state.db")
	if db.Path() != want {
		t.Errorf("Path() = %q, want %q", db.Path(), want)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpen_UnwritablePath(t *testing.T) {
	if _, err := Open("/proc/nonexistent/state.db"); err == nil {
		t.Error("expected error opening db under /proc")
	}
}

func TestClose_RejectsFurtherQueries(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := db.Query("SELECT 1"); err == nil {
		t.Error("expected error after close")
	}
}

func TestMigrate_CreatesHistoryTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "runs", "results"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestMigrate_IdempotentAndVersioned(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 2; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (again, %d) failed: %v", i, err)
		}
	}

	var rows, maxVersion int
	if err := db.QueryRow("SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&rows, &maxVersion); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if rows != len(migrations) || maxVersion != SchemaVersion() {
		t.Errorf("schema_version has %d rows, max %d; want %d rows, max %d", rows, maxVersion, len(migrations), SchemaVersion())
	}
}

func TestMigrate_UpgradesFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// Simulate a database written before the results table existed.
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(migrations[0].sql); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='results'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("results table not created by upgrade")
	}
}

func TestTransaction(t *testing.T) {
	insert := func(id string) func(tx *sql.Tx) error {
		return func(tx *sql.Tx) error {
			_, err := tx.Exec("INSERT INTO runs (id, requested, started_at, summary) VALUES (?, '[]', ?, '{}')",
				id, formatTime(time.Now()))
			return err
		}
	}
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		fn      func(id string) func(tx *sql.Tx) error
		wantErr error
		stored  int
	}{
		{"commit", insert, nil, 1},
		{"rollback", func(id string) func(tx *sql.Tx) error {
			return func(tx *sql.Tx) error {
				if err := insert(id)(tx); err != nil {
					return err
				}
				return errBoom
			}
		}, errBoom, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)

			err := db.Transaction(tt.fn(tt.name))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Transaction error = %v, want %v", err, tt.wantErr)
			}

			var count int
			if err := db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", tt.name).Scan(&count); err != nil {
				t.Fatal(err)
			}
			if count != tt.stored {
				t.Errorf("stored rows = %d, want %d", count, tt.stored)
			}
		})
	}
}

func TestProjectDBPath(t *testing.T) {
	if got, want := ProjectDBPath("/my/project"), "/my/project/.stackrun/state.db"; got != want {
		t.Errorf("ProjectDBPath() = %q, want %q", got, want)
	}
}

func TestFormatTime_SortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(500 * time.Millisecond))
	if !(earlier < later) {
		t.Errorf("%q should sort before %q", earlier, later)
	}

	parsed, err := parseTime(later)
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !parsed.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("round trip = %v", parsed)
	}
}
