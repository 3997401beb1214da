package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader provides methods for loading configuration from various sources.
type Loader interface {
	// Load loads configuration with the following precedence:
	// 1. Environment variables
	// 2. Configuration file
	// 3. Default values
	//
	// Returns the merged configuration or an error if validation fails.
	Load() (*Config, error)

	// LoadFromFile parses a single file without merging or validation.
	LoadFromFile(path string) (*Config, error)

	// Path returns the config file that Load reads, or "" when none exists.
	Path() string
}

type loader struct {
	configPath string
}

// NewLoader creates a new configuration loader.
//
// If configPath is empty, LOGWATCH_CONFIG is consulted, then
// ./logwatch.yaml and ~/.config/logwatch/config.yaml.
func NewLoader(configPath string) Loader {
	return &loader{
		configPath: configPath,
	}
}

func (l *loader) Load() (*Config, error) {
	cfg := Default()

	explicit := l.configPath
	if explicit == "" {
		explicit = os.Getenv("LOGWATCH_CONFIG")
	}

	configPath := explicit
	if configPath == "" {
		configPath = l.findConfigFile()
	}

	if configPath != "" {
		fileCfg, err := l.LoadFromFile(configPath)
		if err != nil {
			// A file the user named must load; a discovered one is optional.
			if explicit != "" {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		} else {
			cfg = mergeConfigs(cfg, fileCfg)
		}
	}

	cfg = applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (l *loader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}

func (l *loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	if env := os.Getenv("LOGWATCH_CONFIG"); env != "" {
		return env
	}
	return l.findConfigFile()
}

// findConfigFile returns the first existing candidate, or "".
func (l *loader) findConfigFile() string {
	candidates := []string{
		"./logwatch.yaml",
		defaultConfigPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// mergeConfigs overlays the non-zero values of override onto base.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if len(override.Files) > 0 {
		result.Files = override.Files
	}

	if override.Tail.Lines > 0 {
		result.Tail.Lines = override.Tail.Lines
	}
	if override.Tail.ChunkSize > 0 {
		result.Tail.ChunkSize = override.Tail.ChunkSize
	}

	if override.Coalesce.QuietWindow > 0 {
		result.Coalesce.QuietWindow = override.Coalesce.QuietWindow
	}
	if override.Coalesce.MaxWait != 0 {
		result.Coalesce.MaxWait = override.Coalesce.MaxWait
	}

	if override.Reader.MaxRetries != 0 {
		result.Reader.MaxRetries = override.Reader.MaxRetries
	}
	if override.Reader.RetryDelay > 0 {
		result.Reader.RetryDelay = override.Reader.RetryDelay
	}
	if override.Reader.MaxDeltaBytes != 0 {
		result.Reader.MaxDeltaBytes = override.Reader.MaxDeltaBytes
	}

	if override.Delivery.QueueSize != 0 {
		result.Delivery.QueueSize = override.Delivery.QueueSize
	}
	if override.Delivery.MaxPendingBytes != 0 {
		result.Delivery.MaxPendingBytes = override.Delivery.MaxPendingBytes
	}
	if override.Delivery.WriteTimeout > 0 {
		result.Delivery.WriteTimeout = override.Delivery.WriteTimeout
	}

	if override.Server.Addr != "" {
		result.Server.Addr = override.Server.Addr
	}
	if len(override.Server.AllowedOrigins) > 0 {
		result.Server.AllowedOrigins = override.Server.AllowedOrigins
	}

	if override.Storage.DBPath != "" {
		result.Storage.DBPath = override.Storage.DBPath
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Output != "" {
		result.Logging.Output = override.Logging.Output
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}

	return &result
}

// applyEnvVars applies environment variable overrides:
//   - LOGWATCH_FILE: comma-separated paths, each exposed under its base name
//   - LOGWATCH_ADDR: server listen address
//   - LOGWATCH_DB: session journal path ("memory" keeps it in memory)
//   - LOGWATCH_LOG_LEVEL: log level
func applyEnvVars(cfg *Config) *Config {
	result := *cfg

	if envFiles := os.Getenv("LOGWATCH_FILE"); envFiles != "" {
		var files []FileConfig
		for _, p := range strings.Split(envFiles, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			files = append(files, FileConfig{Name: filepath.Base(p), Path: p})
		}
		if len(files) > 0 {
			result.Files = files
		}
	}

	if addr := os.Getenv("LOGWATCH_ADDR"); addr != "" {
		result.Server.Addr = addr
	}

	if dbPath := os.Getenv("LOGWATCH_DB"); dbPath != "" {
		if dbPath == "memory" {
			dbPath = ""
		}
		result.Storage.DBPath = dbPath
	}

	if logLevel := os.Getenv("LOGWATCH_LOG_LEVEL"); logLevel != "" {
		result.Logging.Level = strings.ToLower(logLevel)
	}

	return &result
}

// Load is a convenience function equivalent to NewLoader("").Load().
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// LoadFromFile is a convenience function equivalent to NewLoader(path).Load().
func LoadFromFile(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Save writes the configuration to a YAML file with 0600 permissions,
// creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
