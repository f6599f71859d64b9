package worker

import (
	"time"

	"lathe/internal/config"
	"lathe/internal/routing"
)

// Settings carries the resolved timing and sizing knobs for the worker pools.
type Settings struct {
	PoolSizes          map[string]int
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
}

// SettingsFromConfig resolves the configuration's second-granularity values.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PoolSizes: map[string]int{
			routing.QueueConversion:  cfg.Queues.ConversionWorkers,
			routing.QueuePriority:    cfg.Queues.PriorityWorkers,
			routing.QueueMaintenance: cfg.Queues.MaintenanceWorkers,
		},
		PollInterval:       time.Duration(cfg.Queues.PollInterval) * time.Second,
		ErrorRetryInterval: time.Duration(cfg.Queues.ErrorRetryInterval) * time.Second,
		HeartbeatInterval:  time.Duration(cfg.Queues.HeartbeatInterval) * time.Second,
		HeartbeatTimeout:   time.Duration(cfg.Queues.HeartbeatTimeout) * time.Second,
		MaxAttempts:        cfg.Retry.MaxAttempts,
		RetryBaseDelay:     time.Duration(cfg.Retry.BaseDelay) * time.Second,
		RetryMaxDelay:      time.Duration(cfg.Retry.MaxDelay) * time.Second,
	}
}

func (s *Settings) normalize() {
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.ErrorRetryInterval <= 0 {
		s.ErrorRetryInterval = s.PollInterval
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 15 * time.Second
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 1
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = time.Second
	}
	if s.RetryMaxDelay < s.RetryBaseDelay {
		s.RetryMaxDelay = s.RetryBaseDelay
	}
}

// backoffDelay doubles the base delay per prior attempt, capped at the
// configured ceiling. attempts is the number of attempts already used.
func (s Settings) backoffDelay(attempts int) time.Duration {
	delay := s.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.RetryMaxDelay {
			return s.RetryMaxDelay
		}
	}
	if delay > s.RetryMaxDelay {
		return s.RetryMaxDelay
	}
	return delay
}
