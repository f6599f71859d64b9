package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lathe/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(tmp, "data")
	cfg.Paths.StagingDir = filepath.Join(tmp, "staging")
	cfg.Paths.LogDir = filepath.Join(tmp, "logs")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.StagingDir); err != nil {
		t.Fatalf("staging dir not created: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatalf("expected exists=false for %s", path)
	}
	if cfg.Batch.MaxItems != 50 {
		t.Fatalf("expected default max_items, got %d", cfg.Batch.MaxItems)
	}
	if cfg.Queues.ConversionWorkers != 2 {
		t.Fatalf("expected default conversion workers, got %d", cfg.Queues.ConversionWorkers)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`data_dir = "` + filepath.Join(dir, "data") + `"`,
		`staging_dir = "` + filepath.Join(dir, "staging") + `"`,
		"[batch]",
		"max_items = 5",
		"[retry]",
		"max_attempts = 7",
		"base_delay = 2",
		"max_delay = 30",
		"[queues]",
		"conversion_workers = 4",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Batch.MaxItems != 5 {
		t.Fatalf("expected max_items=5, got %d", cfg.Batch.MaxItems)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Fatalf("expected max_attempts=7, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Queues.ConversionWorkers != 4 {
		t.Fatalf("expected conversion_workers=4, got %d", cfg.Queues.ConversionWorkers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "bad detail",
			mutate: func(c *config.Config) { c.Batch.DefaultDetail = "ultra" },
			want:   "default_detail",
		},
		{
			name:   "backoff inversion",
			mutate: func(c *config.Config) { c.Retry.BaseDelay = 90; c.Retry.MaxDelay = 30 },
			want:   "base_delay",
		},
		{
			name: "heartbeat inversion",
			mutate: func(c *config.Config) {
				c.Queues.HeartbeatInterval = 60
				c.Queues.HeartbeatTimeout = 30
			},
			want: "heartbeat_timeout",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.StagingDir = filepath.Join(cfg.Paths.DataDir, "staging")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error %q", tc.want, err)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error overwriting existing config")
	}
}
