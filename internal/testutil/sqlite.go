// Package testutil provides SQLite fixtures and fake engine dependencies
// for tests.
package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// CreateTestDatabase creates a small club-register database at path with
// the given number of member rows. Different row counts produce files
// with different content hashes.
func CreateTestDatabase(t *testing.T, path string, rows int) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE soci (
		id INTEGER PRIMARY KEY,
		nome TEXT NOT NULL,
		attivo INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	for i := 0; i < rows; i++ {
		if _, err := db.Exec("INSERT INTO soci (nome) VALUES (?)", fmt.Sprintf("member-%04d", i)); err != nil {
			t.Fatalf("inserting test row: %v", err)
		}
	}
}

// CorruptDatabaseHeader overwrites the SQLite magic header so the file no
// longer parses as a database at all.
func CorruptDatabaseHeader(t *testing.T, path string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening database for corruption: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("definitely not db"), 0); err != nil {
		t.Fatalf("corrupting database header: %v", err)
	}
}
