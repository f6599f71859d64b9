package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lathe/internal/config"
	"lathe/internal/generate"
	"lathe/internal/logging"
	"lathe/internal/queue"
	"lathe/internal/routing"
	"lathe/internal/staging"
)

// Executor runs one task attempt. Implementations report progress through the
// callback and return a result reference on success.
type Executor interface {
	Execute(ctx context.Context, task *queue.Task, report func(percent float64, message string)) (string, error)
}

// GenerateExecutor sends convert and preview tasks to the generation service,
// forwarding the owning batch's detail knob.
type GenerateExecutor struct {
	store  *queue.Store
	client generate.Client
}

// NewGenerateExecutor wraps a generation client.
func NewGenerateExecutor(store *queue.Store, client generate.Client) *GenerateExecutor {
	return &GenerateExecutor{store: store, client: client}
}

func (e *GenerateExecutor) Execute(ctx context.Context, task *queue.Task, report func(percent float64, message string)) (string, error) {
	detail := ""
	if batch, err := e.store.GetBatch(ctx, task.BatchID); err == nil && batch != nil {
		detail = batch.Detail
	}
	req := generate.Request{InputRef: task.InputRef, Kind: task.Kind, Detail: detail}
	result, err := e.client.Generate(ctx, req, func(u generate.Update) {
		message := u.Message
		if message == "" {
			message = u.Stage
		}
		report(u.Percent, message)
	})
	if err != nil {
		return "", err
	}
	return result.OutputRef, nil
}

// MaintenanceExecutor handles cleanup tasks: expired terminal batches are
// pruned from the queue store and orphaned staging files removed.
type MaintenanceExecutor struct {
	store      *queue.Store
	stagingDir string
	retention  time.Duration
	logger     *slog.Logger
}

// NewMaintenanceExecutor builds the cleanup executor from configuration.
func NewMaintenanceExecutor(store *queue.Store, cfg *config.Config, logger *slog.Logger) *MaintenanceExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MaintenanceExecutor{
		store:      store,
		stagingDir: cfg.Paths.StagingDir,
		retention:  time.Duration(cfg.Progress.RetentionMinutes) * time.Minute,
		logger:     logger.With(logging.String(logging.FieldComponent, "maintenance")),
	}
}

func (e *MaintenanceExecutor) Execute(ctx context.Context, task *queue.Task, report func(percent float64, message string)) (string, error) {
	report(10, "pruning expired batches")
	cutoff := time.Now().Add(-e.retention)
	removed, err := e.store.DeleteExpiredBatches(ctx, cutoff)
	if err != nil {
		return "", err
	}

	report(60, "sweeping staging directory")
	swept, err := staging.SweepExpired(e.stagingDir, cutoff, e.logger)
	if err != nil {
		return "", err
	}

	report(100, "cleanup finished")
	e.logger.Info("cleanup pass finished",
		logging.Int64("batches_removed", removed),
		logging.Int("files_swept", swept))
	return fmt.Sprintf("removed %d batches, swept %d files", removed, swept), nil
}

// DefaultExecutors wires the standard kind-to-executor set.
func DefaultExecutors(store *queue.Store, client generate.Client, cfg *config.Config, logger *slog.Logger) map[string]Executor {
	gen := NewGenerateExecutor(store, client)
	return map[string]Executor{
		routing.KindConvert: gen,
		routing.KindPreview: gen,
		routing.KindCleanup: NewMaintenanceExecutor(store, cfg, logger),
	}
}
