package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// StartupResult reports the outcome of a startup (incremental) backup run.
type StartupResult struct {
	// Created is false when the run was a no-op because the database was
	// unchanged since the last recorded backup.
	Created    bool
	BackupPath string
	Hash       string
	// Evicted lists the old incremental copies removed by retention.
	Evicted []string
}

// RunStartupBackup decides whether a new incremental backup copy is
// warranted and enforces retention. It is idempotent: a second run with an
// unchanged database creates nothing and leaves the metadata untouched.
// force creates a copy even when the database hash is unchanged.
//
// Errors: ErrNoSource when the database is missing, *SourceCorruptError
// when the live database fails its integrity check (a corrupt source is
// never backed up, that would propagate corruption into the backup set),
// ErrCopyMismatch or wrapped I/O errors when the copy fails. I/O failures
// are never retried; they are surfaced immediately.
func (s *Service) RunStartupBackup(dbPath, backupDir string, force bool) (*StartupResult, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, dbPath)
		}
		return nil, fmt.Errorf("stat source database: %w", err)
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	if ok, diagnostics := s.verifier.Check(dbPath); !ok {
		s.logger.Error("refusing to back up corrupt database", "path", dbPath, "findings", len(diagnostics))
		return nil, &SourceCorruptError{Path: dbPath, Diagnostics: diagnostics}
	}

	currentHash, err := Digest(dbPath)
	if err != nil {
		return nil, err
	}

	store := NewMetadataStore(backupDir)
	md := store.Load()

	if !force && md.LastBackupHash == currentHash {
		s.logger.Info("database unchanged since last backup, skipping", "path", dbPath)
		return &StartupResult{Created: false, Hash: currentHash}, nil
	}

	now := s.clock.Now()
	backupPath := filepath.Join(backupDir, incrementalName(dbPath, now))

	if err := copyAndVerify(dbPath, backupPath, currentHash); err != nil {
		return nil, err
	}
	s.logger.Info("incremental backup created", "path", backupPath)

	md.LastBackupHash = currentHash
	md.LastBackupTime = now
	md.LastBackupFile = backupPath
	if err := store.Save(md); err != nil {
		return nil, fmt.Errorf("saving backup metadata: %w", err)
	}

	evicted, err := s.enforceRetention(dbPath, backupDir, backupPath)
	if err != nil {
		return nil, err
	}

	return &StartupResult{
		Created:    true,
		BackupPath: backupPath,
		Hash:       currentHash,
		Evicted:    evicted,
	}, nil
}

// copyAndVerify copies src to dst and confirms the copy hashes to
// wantHash. On mismatch the partial file is left on disk for diagnosis and
// ErrCopyMismatch is returned; it must not be counted as a valid backup.
func copyAndVerify(src, dst, wantHash string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source database: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating backup copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying database: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing backup copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing backup copy: %w", err)
	}

	copyHash, err := Digest(dst)
	if err != nil {
		return err
	}
	if copyHash != wantHash {
		return fmt.Errorf("%w: %s", ErrCopyMismatch, dst)
	}
	return nil
}

// enforceRetention deletes the oldest incremental backup copies beyond the
// retention count. Eviction is strictly oldest-first and never removes the
// backup just created.
func (s *Service) enforceRetention(dbPath, backupDir, justCreated string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	type stamped struct {
		path  string
		stamp string
	}
	var backups []stamped
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseIncrementalName(dbPath, entry.Name()); !ok {
			continue
		}
		backups = append(backups, stamped{
			path:  filepath.Join(backupDir, entry.Name()),
			stamp: entry.Name(),
		})
	}

	// Newest first; the embedded timestamp sorts lexically.
	sort.Slice(backups, func(i, j int) bool { return backups[i].stamp > backups[j].stamp })

	var evicted []string
	for i, b := range backups {
		if i < s.retention || b.path == justCreated {
			continue
		}
		if err := os.Remove(b.path); err != nil {
			return evicted, fmt.Errorf("removing old backup %s: %w", b.path, err)
		}
		s.logger.Info("old backup evicted", "path", b.path)
		evicted = append(evicted, b.path)
	}
	return evicted, nil
}
