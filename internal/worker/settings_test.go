package worker

import (
	"testing"
	"time"

	"lathe/internal/config"
	"lathe/internal/routing"
)

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	settings := Settings{RetryBaseDelay: time.Second, RetryMaxDelay: 5 * time.Second}
	settings.normalize()

	cases := []struct {
		attempts int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := settings.backoffDelay(tc.attempts); got != tc.expected {
			t.Fatalf("attempts %d: expected %s, got %s", tc.attempts, tc.expected, got)
		}
	}
}

func TestSettingsFromConfigMapsPools(t *testing.T) {
	cfg := config.Default()
	cfg.Queues.ConversionWorkers = 4
	cfg.Queues.PriorityWorkers = 2
	cfg.Queues.MaintenanceWorkers = 1

	settings := SettingsFromConfig(&cfg)
	if settings.PoolSizes[routing.QueueConversion] != 4 {
		t.Fatalf("unexpected conversion pool: %d", settings.PoolSizes[routing.QueueConversion])
	}
	if settings.PoolSizes[routing.QueuePriority] != 2 {
		t.Fatalf("unexpected priority pool: %d", settings.PoolSizes[routing.QueuePriority])
	}
	if settings.PoolSizes[routing.QueueMaintenance] != 1 {
		t.Fatalf("unexpected maintenance pool: %d", settings.PoolSizes[routing.QueueMaintenance])
	}
	if settings.MaxAttempts != cfg.Retry.MaxAttempts {
		t.Fatalf("unexpected max attempts %d", settings.MaxAttempts)
	}
}

func TestNormalizeDefaultsTimings(t *testing.T) {
	var settings Settings
	settings.normalize()
	if settings.PollInterval <= 0 || settings.HeartbeatInterval <= 0 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.MaxAttempts != 1 {
		t.Fatalf("expected at least one attempt, got %d", settings.MaxAttempts)
	}
	if settings.RetryMaxDelay < settings.RetryBaseDelay {
		t.Fatalf("max delay below base: %+v", settings)
	}
}
