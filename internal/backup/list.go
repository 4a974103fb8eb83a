package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Kind distinguishes the two classes of backup artifacts.
type Kind string

const (
	KindIncremental Kind = "incremental"
	KindArchive     Kind = "archive"
)

// BackupInfo describes one backup artifact on disk.
type BackupInfo struct {
	Path      string
	Kind      Kind
	Size      int64
	CreatedAt time.Time
	// Verified is true when an integrity check was run on this artifact
	// (incremental copies only; archives are verified at restore time).
	Verified bool
	Valid    bool
}

// ListBackups inventories the incremental copies and on-demand archives
// for the given database, newest first. Each incremental copy is
// integrity-checked so the operator can see at a glance which backups are
// actually usable.
func (s *Service) ListBackups(dbPath, backupDir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var kind Kind
		var created time.Time
		if t, ok := parseIncrementalName(dbPath, entry.Name()); ok {
			kind, created = KindIncremental, t
		} else if t, ok := parseArchiveName(dbPath, entry.Name()); ok {
			kind, created = KindArchive, t
		} else {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable backup", "name", entry.Name(), "error", err)
			continue
		}

		b := BackupInfo{
			Path:      filepath.Join(backupDir, entry.Name()),
			Kind:      kind,
			Size:      info.Size(),
			CreatedAt: created,
		}
		if kind == KindIncremental {
			ok, _ := s.verifier.Check(b.Path)
			b.Verified = true
			b.Valid = ok
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.After(backups[j].CreatedAt) })
	return backups, nil
}
