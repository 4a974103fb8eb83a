package backup

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"soci-backup/internal/fs"
)

// ManifestName is the manifest entry embedded at the root of every
// on-demand archive.
const ManifestName = "backup_manifest.json"

// Manifest describes the contents of an on-demand archive. Write-once at
// archive-creation time.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Sources   []string  `json:"sources"`
	// DBHash is the SHA-256 digest of the source database at archive time.
	DBHash   string   `json:"db_hash"`
	Contents []string `json:"contents"`
}

// ArchiveOptions control an on-demand backup run.
type ArchiveOptions struct {
	// Encrypt produces a ".zip.age" archive using the configured encryptor
	// instead of a plaintext ZIP.
	Encrypt bool
	// Exclude holds extra exclusion patterns applied while walking the
	// data directory (see fs.ExcludeMatcher).
	Exclude []string
}

// RunOnDemandBackup bundles the data directory plus a consistent snapshot
// of the database into a single timestamped ZIP archive in backupDir. The
// live database file and any backup subdirectory nested inside the data
// directory are excluded from the walk; the database entry in the archive
// is the snapshot, never a raw copy. Partially written archives are removed
// on failure, and the temporary staging directory never survives the call.
func (s *Service) RunOnDemandBackup(dataDir, dbPath, backupDir string, opts ArchiveOptions) (string, error) {
	info, err := os.Stat(dataDir)
	if err != nil {
		return "", fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("data directory is not a directory: %s", dataDir)
	}
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoSource, dbPath)
		}
		return "", fmt.Errorf("stat source database: %w", err)
	}
	if opts.Encrypt && s.encryptor == nil {
		return "", fmt.Errorf("archive encryption requested but no encryptor is configured")
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	if ok, diagnostics := s.verifier.Check(dbPath); !ok {
		return "", &SourceCorruptError{Path: dbPath, Diagnostics: diagnostics}
	}

	dbHash, err := Digest(dbPath)
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp("", "socibackup-staging-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	snapshotPath := filepath.Join(staging, filepath.Base(dbPath))
	if err := s.snapshotter.Snapshot(dbPath, snapshotPath); err != nil {
		return "", err
	}

	walker := fs.NewWalker([]string{backupDir}, []string{dbPath}, opts.Exclude)
	entries, err := walker.Collect(dataDir)
	if err != nil {
		return "", fmt.Errorf("collecting data files: %w", err)
	}

	now := s.clock.Now()
	archivePath := filepath.Join(backupDir, archiveName(dbPath, now))
	if opts.Encrypt {
		archivePath += ".age"
	}

	tmpArchive, err := s.writeArchive(dbPath, dataDir, snapshotPath, entries, backupDir, dbHash, now)
	if tmpArchive != "" {
		defer os.Remove(tmpArchive)
	}
	if err != nil {
		return "", err
	}

	if opts.Encrypt {
		if err := s.encryptArchive(tmpArchive, archivePath); err != nil {
			return "", err
		}
	} else if err := os.Rename(tmpArchive, archivePath); err != nil {
		return "", fmt.Errorf("finalizing archive: %w", err)
	}

	s.logger.Info("on-demand backup archive created", "path", archivePath, "files", len(entries))
	return archivePath, nil
}

// writeArchive writes the ZIP to a temp file inside backupDir and returns
// its path. The caller is responsible for renaming or removing it.
func (s *Service) writeArchive(dbPath, dataDir, snapshotPath string, entries []fs.Entry, backupDir, dbHash string, now time.Time) (string, error) {
	tmp, err := os.CreateTemp(backupDir, ".archive-*.zip.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	zw := zip.NewWriter(tmp)

	var contents []string
	for _, entry := range entries {
		name := path.Join("data", entry.RelPath)
		if err := addFileToArchive(zw, entry.AbsPath, name, entry.Info.ModTime()); err != nil {
			zw.Close()
			tmp.Close()
			return tmpPath, err
		}
		contents = append(contents, name)
	}

	dbEntry := filepath.Base(dbPath)
	snapInfo, err := os.Stat(snapshotPath)
	if err != nil {
		zw.Close()
		tmp.Close()
		return tmpPath, fmt.Errorf("stat snapshot: %w", err)
	}
	if err := addFileToArchive(zw, snapshotPath, dbEntry, snapInfo.ModTime()); err != nil {
		zw.Close()
		tmp.Close()
		return tmpPath, err
	}
	contents = append(contents, dbEntry)

	manifest := Manifest{
		CreatedAt: now,
		Sources:   []string{dataDir, dbPath},
		DBHash:    dbHash,
		Contents:  contents,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		tmp.Close()
		return tmpPath, fmt.Errorf("encoding manifest: %w", err)
	}
	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestName,
		Method:   zip.Deflate,
		Modified: now,
	})
	if err != nil {
		zw.Close()
		tmp.Close()
		return tmpPath, fmt.Errorf("creating manifest entry: %w", err)
	}
	if _, err := mw.Write(manifestData); err != nil {
		zw.Close()
		tmp.Close()
		return tmpPath, fmt.Errorf("writing manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return tmpPath, fmt.Errorf("finalizing archive contents: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tmpPath, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return tmpPath, fmt.Errorf("closing archive: %w", err)
	}
	return tmpPath, nil
}

// encryptArchive encrypts the plaintext ZIP at src into dst via a temp
// file in the destination directory.
func (s *Service) encryptArchive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening archive for encryption: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*.age.tmp")
	if err != nil {
		return fmt.Errorf("creating temp encrypted archive: %w", err)
	}
	tmpPath := tmp.Name()

	if err := s.encryptor.Encrypt(in, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encrypting archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing encrypted archive: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing encrypted archive: %w", err)
	}
	return nil
}

// addFileToArchive streams one file into the ZIP under the given entry name.
func addFileToArchive(zw *zip.Writer, absPath, name string, modified time.Time) error {
	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", absPath, err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("creating archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("writing archive entry %s: %w", name, err)
	}
	return nil
}
