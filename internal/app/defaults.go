package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment
// variables first.
// Environment variables:
//   - SOCIBACKUP_CONFIG_PATH: config file location (default: ~/.config/socibackup.toml)
//   - SOCIBACKUP_HOME: base directory for application data (default: ~/.local/share/socibackup)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking the
// SOCIBACKUP_CONFIG_PATH env var first, then falling back to
// ~/.config/socibackup.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("SOCIBACKUP_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "socibackup.toml"), nil
}

// getBaseDir returns the base data directory, checking the SOCIBACKUP_HOME
// env var first, then falling back to the XDG default
// ~/.local/share/socibackup.
func getBaseDir() (string, error) {
	if path := os.Getenv("SOCIBACKUP_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "socibackup"), nil
}
