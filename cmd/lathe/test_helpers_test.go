package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"lathe/internal/config"
	"lathe/internal/daemon"
	"lathe/internal/logging"
	"lathe/internal/notifications"
	"lathe/internal/orchestrator"
	"lathe/internal/progress"
	"lathe/internal/queue"
	"lathe/internal/routing"
	"lathe/internal/testsupport"
	"lathe/internal/worker"
)

type stubExecutor struct {
	err error
}

func (e *stubExecutor) Execute(ctx context.Context, task *queue.Task, report func(percent float64, message string)) (string, error) {
	report(50, "halfway")
	if e.err != nil {
		return "", e.err
	}
	return "outputs/" + filepath.Base(task.InputRef), nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	bind       string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	store := testsupport.MustOpenStore(t, cfg)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	snapshots, err := progress.OpenSnapshots(cfg.ProgressDBDir(), time.Hour)
	if err != nil {
		t.Fatalf("OpenSnapshots failed: %v", err)
	}
	hub := progress.NewHub(cfg.Progress.HubCapacity)
	tracker := progress.NewTracker(hub, snapshots, logging.NewNop())
	orch := orchestrator.New(cfg, store, tracker, notifications.NewService(cfg), logging.NewNop())

	executors := map[string]worker.Executor{
		routing.KindConvert: &stubExecutor{},
		routing.KindPreview: &stubExecutor{},
		routing.KindCleanup: &stubExecutor{},
	}
	settings := worker.SettingsFromConfig(cfg)
	settings.PollInterval = 10 * time.Millisecond
	settings.ErrorRetryInterval = 10 * time.Millisecond
	settings.HeartbeatInterval = 10 * time.Millisecond
	settings.HeartbeatTimeout = 200 * time.Millisecond
	manager := worker.NewManager(store, orch, executors, settings, logging.NewNop())

	d, err := daemon.New(cfg, store, tracker, orch, manager, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("daemon.Close failed: %v", err)
		}
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		bind:       d.Addr(),
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, bind, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--bind", bind}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeInputFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("clip-data"), 0o644); err != nil {
		t.Fatalf("write input file: %v", err)
	}
	return path
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
