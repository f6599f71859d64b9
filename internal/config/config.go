package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Generator contains configuration for the external generation service.
type Generator struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	CallTimeout    int     `toml:"call_timeout"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
	Burst          int     `toml:"burst"`
}

// Batch contains submission and aggregation limits.
type Batch struct {
	MaxItems      int    `toml:"max_items"`
	DefaultDetail string `toml:"default_detail"`
}

// Queues contains per-queue worker pool sizing.
type Queues struct {
	ConversionWorkers  int `toml:"conversion_workers"`
	PriorityWorkers    int `toml:"priority_workers"`
	MaintenanceWorkers int `toml:"maintenance_workers"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Retry contains the transient-failure retry policy.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelay   int `toml:"base_delay"`
	MaxDelay    int `toml:"max_delay"`
}

// Progress contains progress-store retention and streaming settings.
type Progress struct {
	RetentionMinutes int `toml:"retention_minutes"`
	StreamHeartbeat  int `toml:"stream_heartbeat"`
	HubCapacity      int `toml:"hub_capacity"`
	CleanupInterval  int `toml:"cleanup_interval"`
}

// Transfer contains the client-side upload queue settings.
type Transfer struct {
	MaxConcurrentUploads int    `toml:"max_concurrent_uploads"`
	MaxRetries           int    `toml:"max_retries"`
	RetryBaseDelay       int    `toml:"retry_base_delay"`
	StateFile            string `toml:"state_file"`
	ExpireCompletedHours int    `toml:"expire_completed_hours"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchOutcomes  bool   `toml:"batch_outcomes"`
	TaskFailures   bool   `toml:"task_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Generator     Generator     `toml:"generator"`
	Batch         Batch         `toml:"batch"`
	Queues        Queues        `toml:"queues"`
	Retry         Retry         `toml:"retry"`
	Progress      Progress      `toml:"progress"`
	Transfer      Transfer      `toml:"transfer"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lathe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lathe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ProgressDBDir returns the directory backing the progress state store.
func (c *Config) ProgressDBDir() string {
	return filepath.Join(c.Paths.DataDir, "progress")
}

// QueueDBPath returns the SQLite database file backing the queue store.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// TransferStatePath returns the client transfer queue snapshot file.
func (c *Config) TransferStatePath() string {
	if strings.TrimSpace(c.Transfer.StateFile) != "" {
		return c.Transfer.StateFile
	}
	return filepath.Join(c.Paths.DataDir, "transfer.json")
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
