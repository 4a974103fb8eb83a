package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"soci-backup/internal/backup"
)

// SnapshotWriter implements backup.Snapshotter with SQLite's page-level
// online-backup API. A raw file copy of a live, journaled database can
// capture a torn mid-transaction state; the backup API copies pages under
// the engine's own consistency guarantees and tolerates concurrent readers
// and writers on the source.
type SnapshotWriter struct{}

func NewSnapshotWriter() *SnapshotWriter { return &SnapshotWriter{} }

// Snapshot copies the database at sourcePath to destPath. A partially
// written destination is removed on failure.
func (w *SnapshotWriter) Snapshot(sourcePath, destPath string) error {
	if err := w.snapshot(sourcePath, destPath); err != nil {
		os.Remove(destPath)
		return &backup.SnapshotError{Source: sourcePath, Err: err}
	}
	return nil
}

func (w *SnapshotWriter) snapshot(sourcePath, destPath string) error {
	if dir := filepath.Dir(destPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating destination directory: %w", err)
		}
	}

	src, err := sql.Open("sqlite3", readOnlyDSN(sourcePath))
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	defer dst.Close()

	ctx := context.Background()
	srcConn, err := src.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring source connection: %w", err)
	}
	defer srcConn.Close()

	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring destination connection: %w", err)
	}
	defer dstConn.Close()

	return srcConn.Raw(func(srcDriverConn any) error {
		srcSQLite, ok := srcDriverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("source connection is %T, not *sqlite3.SQLiteConn", srcDriverConn)
		}
		return dstConn.Raw(func(dstDriverConn any) error {
			dstSQLite, ok := dstDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("destination connection is %T, not *sqlite3.SQLiteConn", dstDriverConn)
			}
			return copyPages(srcSQLite, dstSQLite)
		})
	})
}

// copyPages drives the sqlite3_backup API until every page has been
// copied into the destination.
func copyPages(src, dst *sqlite3.SQLiteConn) error {
	bk, err := dst.Backup("main", src, "main")
	if err != nil {
		return fmt.Errorf("initializing online backup: %w", err)
	}
	defer bk.Finish()

	for {
		done, err := bk.Step(-1)
		if err != nil {
			return fmt.Errorf("copying pages: %w", err)
		}
		if done {
			return nil
		}
	}
}

// Compile-time check that SnapshotWriter implements backup.Snapshotter
var _ backup.Snapshotter = (*SnapshotWriter)(nil)
