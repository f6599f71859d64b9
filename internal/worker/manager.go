package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lathe/internal/logging"
	"lathe/internal/orchestrator"
	"lathe/internal/queue"
)

// Manager runs one worker pool per queue. Each worker claims tasks with the
// store's atomic claim, so a task never has more than one active attempt.
type Manager struct {
	store     *queue.Store
	orch      *orchestrator.Orchestrator
	executors map[string]Executor
	settings  Settings
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a manager from resolved settings. Executors are keyed
// by task kind.
func NewManager(store *queue.Store, orch *orchestrator.Orchestrator, executors map[string]Executor, settings Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	settings.normalize()
	return &Manager{
		store:     store,
		orch:      orch,
		executors: executors,
		settings:  settings,
		logger:    logger.With(logging.String(logging.FieldComponent, "worker")),
	}
}

// Start launches the pools and the stale-attempt reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("worker manager already running")
	}

	total := 0
	for _, size := range m.settings.PoolSizes {
		total += size
	}
	if total == 0 {
		return errors.New("no worker slots configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for queueName, size := range m.settings.PoolSizes {
		for i := 0; i < size; i++ {
			m.wg.Add(1)
			go m.runWorker(runCtx, queueName, i)
		}
	}
	m.wg.Add(1)
	go m.runReclaimer(runCtx)
	return nil
}

// Stop terminates the pools and waits for in-flight attempts to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the pools are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// PoolSizes exposes the per-queue worker slot counts.
func (m *Manager) PoolSizes() map[string]int {
	sizes := make(map[string]int, len(m.settings.PoolSizes))
	for queueName, size := range m.settings.PoolSizes {
		sizes[queueName] = size
	}
	return sizes
}

func (m *Manager) runWorker(ctx context.Context, queueName string, slot int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("slot", slot))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.store.ClaimNext(ctx, queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("claim next task",
				logging.String(logging.FieldQueue, queueName),
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			if !sleepCtx(ctx, m.settings.ErrorRetryInterval) {
				return
			}
			continue
		}
		if task == nil {
			if !sleepCtx(ctx, m.settings.PollInterval) {
				return
			}
			continue
		}

		if err := m.runAttempt(ctx, logger, task); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

// runReclaimer periodically requeues tasks whose workers stopped heartbeating.
func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	if m.settings.HeartbeatTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.settings.HeartbeatTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.settings.HeartbeatTimeout)
			reclaimed, err := m.store.ReclaimStaleProcessing(ctx, cutoff)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("reclaim stale attempts", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				m.logger.Info("reclaimed stale attempts", logging.Int64("count", reclaimed))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func executorNotConfigured(kind string) error {
	return fmt.Errorf("no executor configured for task kind %q", kind)
}
