package config

import (
	"os"
	"path/filepath"
)

// defaultFiles mirrors the classic single-file setup: ./log.txt exposed as "log".
func defaultFiles() []FileConfig {
	return []FileConfig{
		{Name: "log", Path: "./log.txt"},
	}
}

// defaultDBPath returns ~/.config/logwatch/sessions.db.
func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./sessions.db"
	}

	return filepath.Join(homeDir, ".config", "logwatch", "sessions.db")
}

// defaultConfigPath returns ~/.config/logwatch/config.yaml.
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}

	return filepath.Join(homeDir, ".config", "logwatch", "config.yaml")
}

// DefaultConfigPath exposes the user-level config location for the CLI.
func DefaultConfigPath() string {
	return defaultConfigPath()
}
