package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"mutations", "surveys", "lois", "submissions"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM mutations").Scan(&count); err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	pragmas := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, p := range pragmas {
		if err := s.verifyPragma(p.name, p.want); err != nil {
			t.Error(err)
		}
	}
}

// Schema tests

func TestSchema_MutationsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "mutations")
	want := []string{
		"id", "survey_id", "type", "operation", "state", "retry_count", "last_error",
		"error_code", "user_id", "client_timestamp", "location_of_interest_id", "job_id",
		"submission_id", "collection_id", "deltas",
	}
	for _, col := range want {
		if !slices.Contains(columns, col) {
			t.Errorf("mutations table missing column %q, got %v", col, columns)
		}
	}
}

func TestSchema_MutationsIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "mutations")
	for _, idx := range []string{"idx_mutations_state", "idx_mutations_loi", "idx_mutations_survey"} {
		if !slices.Contains(indexes, idx) {
			t.Errorf("mutations table missing index %q, got %v", idx, indexes)
		}
	}
}

func TestConstraint_DeletePayloadMustBeNull(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO mutations (survey_id, type, operation, client_timestamp, location_of_interest_id, deltas)
		VALUES ('s1', 'LOCATION_OF_INTEREST', 'DELETE', 0, 'loi-1', '{}')
	`)
	if err == nil {
		t.Error("expected CHECK constraint violation for DELETE with payload")
	}

	_, err = s.db.Exec(`
		INSERT INTO mutations (survey_id, type, operation, client_timestamp, location_of_interest_id, deltas)
		VALUES ('s1', 'LOCATION_OF_INTEREST', 'CREATE', 0, 'loi-1', NULL)
	`)
	if err == nil {
		t.Error("expected CHECK constraint violation for CREATE without payload")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// A version 0 database: mutations without error_code and collection_id.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE mutations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			survey_id TEXT NOT NULL,
			type TEXT NOT NULL,
			operation TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'PENDING',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			client_timestamp INTEGER NOT NULL,
			location_of_interest_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			submission_id TEXT,
			deltas TEXT
		);
		INSERT INTO mutations (survey_id, type, operation, state, client_timestamp, location_of_interest_id, deltas)
		VALUES ('s1', 'LOCATION_OF_INTEREST', 'CREATE', 'FAILED', 0, 'loi-1', '{"deltas":{},"version":1}');
	`)
	if err != nil {
		t.Fatalf("failed to create v0 schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	columns := getTableColumns(t, s.db, "mutations")
	for _, col := range []string{"error_code", "collection_id"} {
		if !slices.Contains(columns, col) {
			t.Errorf("column %q missing after migration, got %v", col, columns)
		}
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	failed, err := s.MutationsByStatus(t.Context(), "FAILED")
	if err != nil {
		t.Fatalf("MutationsByStatus() failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != "" {
		t.Errorf("existing row not readable after migration: %+v", failed)
	}
}

// Helper functions

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
