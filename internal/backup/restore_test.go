package backup_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soci-backup/internal/backup"
	"soci-backup/internal/config"
	"soci-backup/internal/encryption"
	"soci-backup/internal/testutil"
)

func readFileString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestRestore(t *testing.T) {
	t.Run("swaps in the backup and keeps a safety copy", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "soci_20250101_090000.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "older good state")

		oldHash, err := backup.Digest(target)
		if err != nil {
			t.Fatalf("Digest() error = %v", err)
		}
		wantHash, err := backup.Digest(backupFile)
		if err != nil {
			t.Fatalf("Digest() error = %v", err)
		}

		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)
		result, err := svc.Restore(backupFile, target, backup.RestoreOptions{CreateSafetyBackup: true})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}

		gotHash, err := backup.Digest(target)
		if err != nil {
			t.Fatalf("Digest() error = %v", err)
		}
		if gotHash != wantHash {
			t.Errorf("restored database hash = %s, want %s", gotHash, wantHash)
		}

		if result.SafetyBackupPath == "" {
			t.Fatal("Restore() recorded no safety backup")
		}
		if filepath.Base(result.SafetyBackupPath) != "soci.db.pre_restore_20250101_090000" {
			t.Errorf("safety backup name = %s", filepath.Base(result.SafetyBackupPath))
		}
		safetyHash, err := backup.Digest(result.SafetyBackupPath)
		if err != nil {
			t.Fatalf("Digest() on safety copy: %v", err)
		}
		if safetyHash != oldHash {
			t.Errorf("safety copy hash = %s, want pre-restore hash %s", safetyHash, oldHash)
		}
	})

	t.Run("safety backup can be disabled", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "older good state")

		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)
		result, err := svc.Restore(backupFile, target, backup.RestoreOptions{})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if result.SafetyBackupPath != "" {
			t.Errorf("SafetyBackupPath = %s, want empty", result.SafetyBackupPath)
		}

		safeties, _ := filepath.Glob(target + ".pre_restore_*")
		if len(safeties) != 0 {
			t.Errorf("safety copies created despite option: %v", safeties)
		}
	})

	t.Run("missing target needs no safety copy", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, backupFile, "recovered state")

		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)
		result, err := svc.Restore(backupFile, target, backup.RestoreOptions{CreateSafetyBackup: true})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if result.SafetyBackupPath != "" {
			t.Errorf("SafetyBackupPath = %s, want empty for a missing target", result.SafetyBackupPath)
		}
		if readFileString(t, target) != "recovered state" {
			t.Error("target not written")
		}
	})

	t.Run("invalid candidate leaves the target untouched", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "garbage")

		verifier := &testutil.ScriptedVerifier{Results: []testutil.VerifyResult{
			{OK: false, Diagnostics: []string{"file is not a database"}},
		}}
		svc := newTestService(verifier, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)

		_, err := svc.Restore(backupFile, target, backup.RestoreOptions{CreateSafetyBackup: true})
		var invalid *backup.CandidateInvalidError
		if !errors.As(err, &invalid) {
			t.Fatalf("Restore() error = %v, want *CandidateInvalidError", err)
		}
		if invalid.Path != backupFile {
			t.Errorf("CandidateInvalidError.Path = %s, want %s", invalid.Path, backupFile)
		}

		if readFileString(t, target) != "current state" {
			t.Error("target mutated by a refused restore")
		}
		safeties, _ := filepath.Glob(target + ".pre_restore_*")
		if len(safeties) != 0 {
			t.Errorf("refused restore created safety copies: %v", safeties)
		}
	})

	t.Run("safety backup failure aborts before the swap", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "older good state")

		svc := newTestService(testutil.OKVerifier{}, testutil.FailingSnapshotter{}, testutil.NewFakeClock(), 0)

		_, err := svc.Restore(backupFile, target, backup.RestoreOptions{CreateSafetyBackup: true})
		var failed *backup.SafetyBackupFailedError
		if !errors.As(err, &failed) {
			t.Fatalf("Restore() error = %v, want *SafetyBackupFailedError", err)
		}

		if readFileString(t, target) != "current state" {
			t.Error("target mutated after a failed safety backup")
		}
	})

	t.Run("post-restore verification failure rolls back", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "silently damaged state")

		// Candidate check passes, post-restore check fails.
		verifier := &testutil.ScriptedVerifier{Results: []testutil.VerifyResult{
			{OK: true},
			{OK: false, Diagnostics: []string{"btree page 12 is corrupt"}},
		}}
		svc := newTestService(verifier, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)

		_, err := svc.Restore(backupFile, target, backup.RestoreOptions{CreateSafetyBackup: true})
		var verr *backup.RestoreVerificationFailedError
		if !errors.As(err, &verr) {
			t.Fatalf("Restore() error = %v, want *RestoreVerificationFailedError", err)
		}
		if !verr.RolledBack {
			t.Error("RolledBack = false, want true")
		}
		if verr.RollbackErr != nil {
			t.Errorf("RollbackErr = %v", verr.RollbackErr)
		}

		if readFileString(t, target) != "current state" {
			t.Error("rollback did not restore the previous database")
		}
		// The safety copy was consumed by the rollback.
		safeties, _ := filepath.Glob(target + ".pre_restore_*")
		if len(safeties) != 0 {
			t.Errorf("safety copy still present after rollback: %v", safeties)
		}
	})

	t.Run("post-restore failure without a safety copy is reported as not rolled back", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "soci.db")
		backupFile := filepath.Join(dir, "copy.db")
		writeDatabaseFile(t, target, "current state")
		writeDatabaseFile(t, backupFile, "silently damaged state")

		verifier := &testutil.ScriptedVerifier{Results: []testutil.VerifyResult{
			{OK: true},
			{OK: false, Diagnostics: []string{"btree page 12 is corrupt"}},
		}}
		svc := newTestService(verifier, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)

		_, err := svc.Restore(backupFile, target, backup.RestoreOptions{})
		var verr *backup.RestoreVerificationFailedError
		if !errors.As(err, &verr) {
			t.Fatalf("Restore() error = %v, want *RestoreVerificationFailedError", err)
		}
		if verr.RolledBack {
			t.Error("RolledBack = true without a safety copy")
		}
	})

	t.Run("missing backup file", func(t *testing.T) {
		dir := t.TempDir()
		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)

		if _, err := svc.Restore(filepath.Join(dir, "absent.db"), filepath.Join(dir, "soci.db"), backup.RestoreOptions{}); err == nil {
			t.Error("Restore() of a missing backup: expected error")
		}
	})
}

func TestRestoreFromArchive(t *testing.T) {
	t.Run("extracts the database snapshot from a plain archive", func(t *testing.T) {
		dataDir, dbPath, backupDir := makeDataTree(t)
		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)

		archivePath, err := svc.RunOnDemandBackup(dataDir, dbPath, backupDir, backup.ArchiveOptions{})
		if err != nil {
			t.Fatalf("RunOnDemandBackup() error = %v", err)
		}

		writeDatabaseFile(t, dbPath, "state after the archive was taken")

		result, err := svc.Restore(archivePath, dbPath, backup.RestoreOptions{CreateSafetyBackup: true})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if readFileString(t, dbPath) != "live database bytes" {
			t.Error("restored database does not match the archived snapshot")
		}
		if readFileString(t, result.SafetyBackupPath) != "state after the archive was taken" {
			t.Error("safety copy does not hold the pre-restore database")
		}
	})

	t.Run("encrypted archive round-trip", func(t *testing.T) {
		dataDir, dbPath, backupDir := makeDataTree(t)
		keyDir := t.TempDir()
		enc := encryption.NewAgeEncryptor(config.EncryptionConfig{
			Enabled:        true,
			PublicKeyPath:  filepath.Join(keyDir, "test.pub"),
			PrivateKeyPath: filepath.Join(keyDir, "test.key"),
		})
		if err := enc.Setup("passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		svc := backup.NewService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NopMaintainer{}, enc, backup.NewNopLogger(), testutil.NewFakeClock(), 0)

		archivePath, err := svc.RunOnDemandBackup(dataDir, dbPath, backupDir, backup.ArchiveOptions{Encrypt: true})
		if err != nil {
			t.Fatalf("RunOnDemandBackup() error = %v", err)
		}
		if filepath.Ext(archivePath) != ".age" {
			t.Fatalf("archive path = %s, want .age suffix", archivePath)
		}

		writeDatabaseFile(t, dbPath, "newer state")

		decrypt, err := enc.Unlock("passphrase")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		if _, err := svc.Restore(archivePath, dbPath, backup.RestoreOptions{CreateSafetyBackup: true, Decrypt: decrypt}); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if readFileString(t, dbPath) != "live database bytes" {
			t.Error("restored database does not match the encrypted archive's snapshot")
		}
	})

	t.Run("encrypted archive without a decryption context", func(t *testing.T) {
		dir := t.TempDir()
		encrypted := filepath.Join(dir, "soci_20250101_090000.zip.age")
		writeDatabaseFile(t, encrypted, "ciphertext")

		svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, testutil.NewFakeClock(), 0)
		if _, err := svc.Restore(encrypted, filepath.Join(dir, "soci.db"), backup.RestoreOptions{}); err == nil {
			t.Error("Restore() of an encrypted archive without Decrypt: expected error")
		}
	})
}

// TestBackupRestoreCycle walks the whole incremental lifecycle: back up,
// change the database, back up again, then restore the first copy.
func TestBackupRestoreCycle(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "soci.db")
	backupDir := filepath.Join(dir, "backups")

	clock := testutil.NewFakeClock()
	svc := newTestService(testutil.OKVerifier{}, &testutil.CopySnapshotter{}, clock, 0)

	writeDatabaseFile(t, dbPath, "version one")
	first, err := svc.RunStartupBackup(dbPath, backupDir, false)
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}

	writeDatabaseFile(t, dbPath, "version two")
	h2, err := backup.Digest(dbPath)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := svc.RunStartupBackup(dbPath, backupDir, false); err != nil {
		t.Fatalf("second backup: %v", err)
	}

	clock.Advance(time.Hour)
	result, err := svc.Restore(first.BackupPath, dbPath, backup.RestoreOptions{CreateSafetyBackup: true})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	restored, err := backup.Digest(dbPath)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if restored != first.Hash {
		t.Errorf("restored hash = %s, want first backup hash %s", restored, first.Hash)
	}

	safetyHash, err := backup.Digest(result.SafetyBackupPath)
	if err != nil {
		t.Fatalf("Digest() on safety copy: %v", err)
	}
	if safetyHash != h2 {
		t.Errorf("safety copy hash = %s, want pre-restore hash %s", safetyHash, h2)
	}
}
