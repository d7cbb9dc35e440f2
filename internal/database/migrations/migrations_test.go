package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"blobs", "manifests", "workspaces", "merges", "files", "merge_sessions", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)
		err := CheckDBMigrationStatus(db)
		if !errors.Is(err, ErrNoVersion) {
			t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNoVersion", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}
		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
		}

		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if !st.UpToDate() || st.Current == 0 {
			t.Errorf("ReadStatus() = %+v", st)
		}
	})
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("Exec(%q) error = %v", query, err)
		}
	}

	mustExec(`INSERT INTO workspaces (id, name, created_at) VALUES ('w1', 'main', datetime('now'))`)
	mustExec(`INSERT INTO manifests (id, hash_tree_sha256, source, version, total_files, total_size_bytes, path, created_at)
		VALUES ('m1', 'tree1', 'git:repo', '2024-01-15T10:30:00.000Z', 0, 0, 'manifests/2024/01/m1.json', datetime('now'))`)
	mustExec(`INSERT INTO merges (id, workspace_id, sequence, manifest_hash, merged_at) VALUES ('g1', 'w1', 1, 'tree1', datetime('now'))`)

	t.Run("sequence unique per workspace", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO merges (id, workspace_id, sequence, manifest_hash, merged_at) VALUES ('g2', 'w1', 1, 'tree1', datetime('now'))`)
		if err == nil {
			t.Error("expected unique violation on (workspace_id, sequence)")
		}
	})

	t.Run("merge requires existing manifest", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO merges (id, workspace_id, sequence, manifest_hash, merged_at) VALUES ('g3', 'w1', 2, 'missing', datetime('now'))`)
		if err == nil {
			t.Error("expected foreign key violation for unknown manifest hash")
		}
	})

	t.Run("file path unique per merge", func(t *testing.T) {
		mustExec(`INSERT INTO files (merge_id, relative_path, blob_hash, action) VALUES ('g1', 'a.txt', 'h1', 'added')`)
		_, err := db.Exec(`INSERT INTO files (merge_id, relative_path, blob_hash, action) VALUES ('g1', 'a.txt', 'h2', 'added')`)
		if err == nil {
			t.Error("expected unique violation on (merge_id, relative_path)")
		}
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO files (merge_id, relative_path, blob_hash, action) VALUES ('g1', 'b.txt', 'h1', 'renamed')`)
		if err == nil {
			t.Error("expected check violation for unknown action")
		}
	})
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
