package state

import (
	"os"
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverSQLite)
	}
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := OpenWithDriver("postgres", tempDBPath(t)); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpen_CgoDriver(t *testing.T) {
	db, err := OpenWithDriver(DriverSQLite3, tempDBPath(t))
	if err != nil {
		t.Skipf("sqlite3 driver unavailable in this build: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.SaveSession(BlobRecord{ID: "x", WorkflowName: "wf", State: "ACTIVE", Data: []byte{1}}, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}

	for _, table := range []string{"schema_version", "session_blobs", "store_counters"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestSaveLoadDeleteSessions(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SaveSession(BlobRecord{ID: "a", WorkflowName: "wf", State: "ACTIVE", UpdatedAt: 1, Data: []byte("one")}, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := db.SaveSession(BlobRecord{ID: "a", WorkflowName: "wf", State: "PAUSED", UpdatedAt: 2, Data: []byte("two")}, nil); err != nil {
		t.Fatalf("SaveSession (upsert) failed: %v", err)
	}
	if err := db.SaveSession(BlobRecord{ID: "b", WorkflowName: "wf", State: "ACTIVE", UpdatedAt: 3, Data: []byte("three")}, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	recs, err := db.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].ID != "a" || recs[0].State != "PAUSED" || string(recs[0].Data) != "two" {
		t.Errorf("recs[0] = %+v, want upserted row a", recs[0])
	}

	n, err := db.DeleteSessions([]string{"a", "missing"})
	if err != nil {
		t.Fatalf("DeleteSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteSessions = %d, want 1", n)
	}
}

func TestCounters(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SaveSession(BlobRecord{ID: "r", State: "ACTIVE", Data: []byte{0}}, map[string]int64{"x": 2, "y": 1, "z": 0}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := db.SaveSession(BlobRecord{ID: "s", State: "ACTIVE", Data: []byte{0}}, map[string]int64{"x": 3}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := db.Counters()
	if err != nil {
		t.Fatalf("Counters failed: %v", err)
	}
	if got["x"] != 5 || got["y"] != 1 {
		t.Errorf("Counters() = %v, want x=5 y=1", got)
	}
	if _, ok := got["z"]; ok {
		t.Error("zero deltas should not create rows")
	}
}

func TestDefaultDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDir(); got != "/custom/data/baton" {
		t.Errorf("DefaultDir() = %q, want /custom/data/baton", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := DefaultDir(), filepath.Join(home, ".local", "share", "baton"); got != want {
		t.Errorf("DefaultDir() = %q, want %q", got, want)
	}
}

func TestProjectDir(t *testing.T) {
	if got := ProjectDir("/my/project"); got != "/my/project/.baton" {
		t.Errorf("ProjectDir() = %q", got)
	}
}
