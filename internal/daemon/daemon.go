package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"lathe/internal/config"
	"lathe/internal/logging"
	"lathe/internal/orchestrator"
	"lathe/internal/progress"
	"lathe/internal/queue"
	"lathe/internal/routing"
	"lathe/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	tracker *progress.Tracker
	orch    *orchestrator.Orchestrator
	manager *worker.Manager

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownFn func()
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueueDBPath  string
	LockFilePath string
	Workers      map[string]int
	Depths       map[string]int
	Health       queue.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, tracker *progress.Tracker, orch *orchestrator.Orchestrator, manager *worker.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || tracker == nil || orch == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, tracker, orchestrator, and worker manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "lathed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		tracker:  tracker,
		orch:     orch,
		manager:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the worker pools, the API
// server, and the maintenance schedulers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lathe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.manager.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workers: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.manager.Stop()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	go d.runCleanupScheduler(d.ctx)
	go d.runSnapshotGC(d.ctx)

	d.running.Store(true)
	d.logger.Info("lathe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("lathe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if snapshots := d.tracker.Snapshots(); snapshots != nil {
		if err := snapshots.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SetShutdownFunc registers the callback invoked when a client requests a
// full daemon shutdown over the API. The process entry point wires this to
// its root context cancellation.
func (d *Daemon) SetShutdownFunc(fn func()) {
	d.shutdownFn = fn
}

// RequestShutdown stops the daemon, preferring the registered shutdown hook
// so the owning process can exit cleanly.
func (d *Daemon) RequestShutdown() {
	if d.shutdownFn != nil {
		d.shutdownFn()
		return
	}
	d.Stop()
}

// Addr reports the bound API address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		Workers:      d.manager.PoolSizes(),
	}
	if health, err := d.store.Health(ctx); err == nil {
		status.Health = health
	}
	depths := make(map[string]int)
	for _, name := range routing.Queues() {
		depth, err := d.store.QueueDepth(ctx, name)
		if err != nil {
			continue
		}
		depths[name] = depth
	}
	status.Depths = depths
	return status
}

// runCleanupScheduler enqueues a maintenance task at the configured interval
// so expired batches and stale staging files get swept by the queue workers.
func (d *Daemon) runCleanupScheduler(ctx context.Context) {
	interval := time.Duration(d.cfg.Progress.CleanupInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if depth, err := d.store.QueueDepth(ctx, routing.QueueMaintenance); err == nil && depth > 0 {
			continue
		}
		_, _, err := d.orch.Submit(ctx, orchestrator.SubmitRequest{
			Items: []orchestrator.SubmitItem{{InputRef: "maintenance", Kind: routing.KindCleanup}},
		})
		if err != nil {
			d.logger.Warn("failed to schedule cleanup task", logging.Error(err))
			continue
		}
		d.logger.Debug("cleanup task scheduled")
	}
}

func (d *Daemon) runSnapshotGC(ctx context.Context) {
	snapshots := d.tracker.Snapshots()
	if snapshots == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshots.RunGC()
		}
	}
}
