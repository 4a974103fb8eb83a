// Package app is the wiring layer between the CLI and the backup engine.
// It constructs all dependencies from config, serializes operations on the
// database with a lock file, and manages logging lifecycle on Close.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"soci-backup/internal/backup"
	"soci-backup/internal/config"
	"soci-backup/internal/encryption"
	"soci-backup/internal/sqlite"
)

// App exposes the engine's operations on the paths configured for this
// installation. The caller must call Close when done.
type App struct {
	cfg       *config.Config
	service   *backup.Service
	encryptor backup.Encryptor
	lock      *OperationLock
	logFile   *os.File
	logger    backup.Logger
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "StartupBackup",
// "Restore") and tags every log line of this run.
func New(cfg *config.Config, operation string) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	lock, err := AcquireOperationLock(cfg.DBPath)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	enc := encryption.NewAgeEncryptor(cfg.Encryption)
	svc := backup.NewService(
		sqlite.NewChecker(),
		sqlite.NewSnapshotWriter(),
		sqlite.NewMaintenance(logger),
		enc,
		logger,
		backup.RealClock{},
		cfg.Retention,
	)

	logger.Info("operation started", "operation", operation, "install_id", cfg.InstallID)

	return &App{
		cfg:       cfg,
		service:   svc,
		encryptor: enc,
		lock:      lock,
		logFile:   logFile,
		logger:    logger,
	}, nil
}

// RunStartupBackup creates an incremental backup if the database changed
// since the last one, and enforces retention.
func (a *App) RunStartupBackup(force bool) (*backup.StartupResult, error) {
	return a.service.RunStartupBackup(a.cfg.DBPath, a.cfg.BackupDir, force)
}

// RunOnDemandBackup builds a full archive of the data directory plus a
// consistent database snapshot. Archives are encrypted when requested or
// when the config enables encryption by default.
func (a *App) RunOnDemandBackup(encrypt bool) (string, error) {
	return a.service.RunOnDemandBackup(a.cfg.DataDir, a.cfg.DBPath, a.cfg.BackupDir, backup.ArchiveOptions{
		Encrypt: encrypt || a.cfg.Encryption.Enabled,
		Exclude: a.cfg.ArchiveExclude,
	})
}

// Restore replaces the live database with the given backup. passphrase is
// only consulted for age-encrypted archives.
func (a *App) Restore(backupPath string, createSafetyBackup bool, passphrase string) (*backup.RestoreResult, error) {
	opts := backup.RestoreOptions{CreateSafetyBackup: createSafetyBackup}

	if strings.HasSuffix(backupPath, ".age") {
		ctx, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
		opts.Decrypt = ctx
	}

	return a.service.Restore(backupPath, a.cfg.DBPath, opts)
}

// Verify runs the integrity checker on the given path, or on the live
// database when path is empty.
func (a *App) Verify(path string) (bool, []string) {
	if path == "" {
		path = a.cfg.DBPath
	}
	return a.service.VerifyDatabase(path)
}

// List inventories the backups for the configured database.
func (a *App) List() ([]backup.BackupInfo, error) {
	return a.service.ListBackups(a.cfg.DBPath, a.cfg.BackupDir)
}

// RebuildIndexes re-creates the application's known indexes, best-effort.
func (a *App) RebuildIndexes() error {
	return a.service.RebuildIndexes(a.cfg.DBPath)
}

// SetupKeys generates the age key pair used for archive encryption.
func (a *App) SetupKeys(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// Close releases the operation lock and closes the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.lock.Release(); err != nil {
		firstErr = fmt.Errorf("releasing operation lock: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
