package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RestoreOptions control a restore run.
type RestoreOptions struct {
	// CreateSafetyBackup snapshots the existing live database to a
	// pre_restore file before the swap. Disabling it means a failed
	// post-restore check cannot be rolled back.
	CreateSafetyBackup bool
	// Decrypt is required when the backup candidate is an age-encrypted
	// archive.
	Decrypt DecryptionContext
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	// RestoredFrom is the resolved database file that was applied (for
	// archives, the extracted snapshot).
	RestoredFrom string
	// SafetyBackupPath is the pre-restore copy of the previous live
	// database. Empty when no live database existed or the safety backup
	// was disabled. It is never deleted by the engine.
	SafetyBackupPath string
}

// restore step names, used for logging state transitions.
const (
	stepVerifying       = "verifying"
	stepSafetyBackingUp = "safety_backing_up"
	stepSwapping        = "swapping"
	stepPostVerifying   = "post_verifying"
	stepRollingBack     = "rolling_back"
)

// Restore replaces the database at targetDBPath with the contents of the
// backup at backupPath. The candidate may be a loose database file, an
// on-demand ZIP archive, or an age-encrypted archive (".age", requires
// opts.Decrypt).
//
// The steps always run in order: the candidate is verified before anything
// is touched; a safety copy of the existing live database is taken before
// the swap; the swap itself is write-temp-then-rename so a crash leaves
// either the old or the new file intact; and the restored database is
// re-verified. A post-restore verification failure rolls the safety copy
// back over the target, so the operation never ends in a worse state than
// it started.
func (s *Service) Restore(backupPath, targetDBPath string, opts RestoreOptions) (*RestoreResult, error) {
	if _, err := os.Stat(backupPath); err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	scratch, err := os.MkdirTemp("", "socibackup-restore-")
	if err != nil {
		return nil, fmt.Errorf("creating restore scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	candidate, err := s.resolveCandidate(backupPath, targetDBPath, opts.Decrypt, scratch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("restore step", "step", stepVerifying, "candidate", candidate)
	if ok, diagnostics := s.verifier.Check(candidate); !ok {
		return nil, &CandidateInvalidError{Path: backupPath, Diagnostics: diagnostics}
	}

	var safetyPath string
	if _, err := os.Stat(targetDBPath); err == nil && opts.CreateSafetyBackup {
		safetyPath = safetyBackupPath(targetDBPath, s.clock.Now())
		s.logger.Info("restore step", "step", stepSafetyBackingUp, "path", safetyPath)
		// The live database may still be memory-mapped by the application,
		// so the safety copy goes through the snapshot writer too.
		if err := s.snapshotter.Snapshot(targetDBPath, safetyPath); err != nil {
			return nil, &SafetyBackupFailedError{Target: targetDBPath, Err: err}
		}
	}

	s.logger.Info("restore step", "step", stepSwapping, "target", targetDBPath)
	if err := swapInPlace(candidate, targetDBPath); err != nil {
		return nil, err
	}

	s.logger.Info("restore step", "step", stepPostVerifying, "target", targetDBPath)
	if ok, diagnostics := s.verifier.Check(targetDBPath); !ok {
		verr := &RestoreVerificationFailedError{Target: targetDBPath, Diagnostics: diagnostics}
		if safetyPath != "" {
			s.logger.Error("restored database corrupt, rolling back", "step", stepRollingBack, "safety", safetyPath)
			if rbErr := os.Rename(safetyPath, targetDBPath); rbErr != nil {
				verr.RollbackErr = rbErr
			} else {
				verr.RolledBack = true
			}
		}
		return nil, verr
	}

	s.logger.Info("restore complete", "target", targetDBPath, "from", backupPath)
	return &RestoreResult{RestoredFrom: candidate, SafetyBackupPath: safetyPath}, nil
}

// resolveCandidate turns the user-supplied backup path into a loose
// database file, decrypting and extracting into scratch as needed.
func (s *Service) resolveCandidate(backupPath, targetDBPath string, decrypt DecryptionContext, scratch string) (string, error) {
	resolved := backupPath

	if strings.HasSuffix(resolved, ".age") {
		if decrypt == nil {
			return "", fmt.Errorf("backup %s is encrypted but no passphrase was provided", backupPath)
		}
		out := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(resolved), ".age"))
		if err := s.decryptTo(resolved, out, decrypt); err != nil {
			return "", err
		}
		resolved = out
	}

	if strings.HasSuffix(resolved, ".zip") {
		extracted, err := extractDatabaseFromArchive(resolved, filepath.Base(targetDBPath), scratch)
		if err != nil {
			return "", err
		}
		resolved = extracted
	}

	return resolved, nil
}

// decryptTo streams the age-encrypted file at src into dst.
func (s *Service) decryptTo(src, dst string, decrypt DecryptionContext) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening encrypted backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating decrypted backup: %w", err)
	}
	defer out.Close()

	if err := decrypt.Decrypt(in, out); err != nil {
		return fmt.Errorf("decrypting backup: %w", err)
	}
	return nil
}

// extractDatabaseFromArchive pulls the database entry out of an on-demand
// archive into scratch. The database entry is the root-level file that is
// not the manifest; when several exist, the one matching the target
// database's file name wins.
func extractDatabaseFromArchive(zipPath, dbFileName, scratch string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("opening archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	var dbEntry *zip.File
	for _, f := range zr.File {
		if strings.Contains(f.Name, "/") || f.Name == ManifestName {
			continue
		}
		if f.Name == dbFileName {
			dbEntry = f
			break
		}
		if dbEntry == nil {
			dbEntry = f
		}
	}
	if dbEntry == nil {
		return "", fmt.Errorf("archive %s contains no database entry", zipPath)
	}

	rc, err := dbEntry.Open()
	if err != nil {
		return "", fmt.Errorf("opening archive entry %s: %w", dbEntry.Name, err)
	}
	defer rc.Close()

	outPath := filepath.Join(scratch, dbEntry.Name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("extracting database entry: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", fmt.Errorf("extracting database entry: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("extracting database entry: %w", err)
	}
	return outPath, nil
}

// swapInPlace replaces target with the contents of src using
// write-temp-then-atomic-rename in the target's directory.
func swapInPlace(src, target string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening restore candidate: %w", err)
	}
	defer in.Close()

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".restore-*")
	if err != nil {
		return fmt.Errorf("creating swap file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing swap file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing swap file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing swap file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting swap file permissions: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("swapping restored database into place: %w", err)
	}
	return nil
}
