package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"soci-backup/internal/app"
	"soci-backup/internal/backup"
	"soci-backup/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a wired App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "socibackup",
	Short: "Backup and restore engine for the club-management database",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		installID := uuid.New().String()
		cfg := config.NewConfig(installID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Install ID: %s\n", installID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Install ID: %s\n", cfg.InstallID)
		fmt.Printf("Database:   %s\n", cfg.DBPath)
		fmt.Printf("Data Dir:   %s\n", cfg.DataDir)
		fmt.Printf("Backup Dir: %s\n", cfg.BackupDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Retention:  %d\n", cfg.Retention)
		fmt.Printf("Encryption: %v\n", cfg.Encryption.Enabled)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		a, err := newApp("SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetupKeys(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// backup command (startup/incremental)
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create an incremental backup if the database changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp("StartupBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RunStartupBackup(force)
		if err != nil {
			var corrupt *backup.SourceCorruptError
			switch {
			case errors.Is(err, backup.ErrNoSource):
				fmt.Println("No database found, nothing to back up.")
				return nil
			case errors.As(err, &corrupt):
				fmt.Fprintln(os.Stderr, "Database failed its integrity check, backup refused:")
				for _, d := range corrupt.Diagnostics {
					fmt.Fprintf(os.Stderr, "  %s\n", d)
				}
				return err
			default:
				return fmt.Errorf("backup failed: %w", err)
			}
		}

		if !result.Created {
			fmt.Println("Database unchanged since last backup, nothing to do.")
			return nil
		}
		fmt.Printf("Backup created: %s\n", result.BackupPath)
		if len(result.Evicted) > 0 {
			fmt.Printf("Evicted %d old backup(s)\n", len(result.Evicted))
		}
		return nil
	},
}

// archive command (on-demand)
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Create a full on-demand backup archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		a, err := newApp("OnDemandBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		archivePath, err := a.RunOnDemandBackup(encrypt)
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}

		fmt.Printf("Archive created: %s\n", archivePath)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore BACKUP",
	Short: "Restore the database from a backup file or archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noSafety, _ := cmd.Flags().GetBool("no-safety-backup")
		backupPath := args[0]

		var passphrase string
		if strings.HasSuffix(backupPath, ".age") {
			var err error
			passphrase, err = readPassphrase("Passphrase for private key: ")
			if err != nil {
				return err
			}
		}

		a, err := newApp("Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Restore(backupPath, !noSafety, passphrase)
		if err != nil {
			var verr *backup.RestoreVerificationFailedError
			if errors.As(err, &verr) && verr.RolledBack {
				fmt.Fprintln(os.Stderr, "Restored database failed verification; rolled back to the previous database.")
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Println("Database restored.")
		if result.SafetyBackupPath != "" {
			fmt.Printf("Safety copy of the previous database: %s\n", result.SafetyBackupPath)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [PATH]",
	Short: "Check the structural integrity of a database file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Verify")
		if err != nil {
			return err
		}
		defer a.Close()

		path := ""
		if len(args) > 0 {
			path = args[0]
		}

		ok, diagnostics := a.Verify(path)
		if ok {
			fmt.Println("Integrity check passed.")
			return nil
		}

		fmt.Println("Integrity check FAILED:")
		for _, d := range diagnostics {
			fmt.Printf("  %s\n", d)
		}
		return fmt.Errorf("database failed integrity check")
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListBackups")
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.List()
		if err != nil {
			return err
		}

		if len(backups) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		for _, b := range backups {
			validity := ""
			if b.Verified {
				if b.Valid {
					validity = "  ok"
				} else {
					validity = "  INVALID"
				}
			}
			fmt.Printf("%-11s  %s  %10d  %s%s\n",
				b.Kind,
				b.CreatedAt.Format("2006-01-02 15:04:05"),
				b.Size,
				b.Path,
				validity,
			)
		}
		return nil
	},
}

// reindex command
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the application's known database indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RebuildIndexes")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RebuildIndexes(); err != nil {
			return fmt.Errorf("rebuilding indexes: %w", err)
		}
		fmt.Println("Index rebuild finished.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolP("force", "f", false, "Back up even if the database is unchanged")
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().Bool("encrypt", false, "Encrypt the archive with the configured age key")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("no-safety-backup", false, "Skip the pre-restore safety copy (not recommended)")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reindexCmd)
}
