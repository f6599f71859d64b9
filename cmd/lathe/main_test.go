package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lathe/internal/routing"
	"lathe/internal/testsupport"
)

func TestCLISubmitStatusAndWatch(t *testing.T) {
	env := setupCLITestEnv(t)

	input := writeInputFile(t, env.baseDir, "clip-a.bin")
	out, _, err := runCLI(t, []string{"submit", "--kind", "convert", input}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "created with 1 task(s)")

	fields := strings.Fields(out)
	if len(fields) < 2 {
		t.Fatalf("unexpected submit output: %q", out)
	}
	batchID := fields[1]

	waitFor(t, 5*time.Second, func() bool {
		statusOut, _, statusErr := runCLI(t, []string{"status", batchID}, env.bind, env.configPath)
		return statusErr == nil && strings.Contains(statusOut, "completed")
	})

	out, _, err = runCLI(t, []string{"status", batchID}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "1 succeeded")
	requireContains(t, out, "outputs/")

	// The batch is terminal, so the stream replays the final state and closes.
	out, _, err = runCLI(t, []string{"watch", batchID}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "batch "+batchID)
	requireContains(t, out, "completed")
}

func TestCLIStatusByTaskID(t *testing.T) {
	env := setupCLITestEnv(t)

	input := writeInputFile(t, env.baseDir, "clip-b.bin")
	out, _, err := runCLI(t, []string{"submit", input}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	batchID := strings.Fields(out)[1]

	waitFor(t, 5*time.Second, func() bool {
		statusOut, _, statusErr := runCLI(t, []string{"status", batchID}, env.bind, env.configPath)
		return statusErr == nil && strings.Contains(statusOut, "completed")
	})

	out, _, err = runCLI(t, []string{"status", "1"}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("status by task id: %v", err)
	}
	requireContains(t, out, "succeeded")
	requireContains(t, out, routing.QueueConversion)
}

func TestCLICancelQueuedBatch(t *testing.T) {
	env := setupCLITestEnv(t)

	// Tasks routed to a queue without workers stay queued until cancelled.
	batch, _ := testsupport.NewBatch(t, env.store, routing.KindConvert, "parked", "a.bin", "b.bin")

	out, _, err := runCLI(t, []string{"cancel", batch.ID}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Cancelled 2 task(s)")

	out, _, err = runCLI(t, []string{"status", batch.ID}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("status after cancel: %v", err)
	}
	requireContains(t, out, "2 cancelled")
}

func TestCLIDaemonStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"daemon", "status"}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Daemon running")
	requireContains(t, out, routing.QueueConversion)
	requireContains(t, out, "Tasks:")
}

func TestCLILogsPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)

	logPath := filepath.Join(env.cfg.Paths.LogDir, "lathe.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--lines", "2"}, env.bind, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "second")
	requireContains(t, out, "third")
	if strings.Contains(out, "first") {
		t.Fatalf("expected only trailing lines, got %q", out)
	}
}

func TestCLIDaemonStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"daemon", "status"}, "127.0.0.1:1", env.configPath)
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}
