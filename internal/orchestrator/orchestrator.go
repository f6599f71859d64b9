package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lathe/internal/config"
	"lathe/internal/logging"
	"lathe/internal/notifications"
	"lathe/internal/progress"
	"lathe/internal/queue"
	"lathe/internal/routing"
	"lathe/internal/services"
)

// Orchestrator owns batch lifecycle decisions: admission, fan-out to queues,
// and fan-in aggregation when tasks finish.
type Orchestrator struct {
	cfg      *config.Config
	store    *queue.Store
	tracker  *progress.Tracker
	notifier notifications.Service
	logger   *slog.Logger
}

// New constructs an orchestrator.
func New(cfg *config.Config, store *queue.Store, tracker *progress.Tracker, notifier notifications.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "orchestrator")),
	}
}

// SubmitItem is one requested unit of work.
type SubmitItem struct {
	InputRef string
	Kind     string
}

// SubmitRequest describes a batch submission.
type SubmitRequest struct {
	Items  []SubmitItem
	Detail string
}

// Submit validates the request, fans it out into tasks, and publishes the
// initial snapshots. Nothing is persisted when validation fails.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*queue.Batch, []*queue.Task, error) {
	if len(req.Items) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "submit", "batch must contain at least one item", nil)
	}
	if max := o.cfg.Batch.MaxItems; len(req.Items) > max {
		return nil, nil, services.Wrap(
			services.ErrCapacity,
			"orchestrator",
			"submit",
			fmt.Sprintf("batch of %d items exceeds the limit of %d", len(req.Items), max),
			nil,
		)
	}

	detail := strings.TrimSpace(req.Detail)
	if detail == "" {
		detail = o.cfg.Batch.DefaultDetail
	}
	if detail != "standard" && detail != "high" {
		return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "submit", fmt.Sprintf("unknown detail %q", detail), nil)
	}

	specs := make([]queue.NewTaskSpec, 0, len(req.Items))
	for i, item := range req.Items {
		inputRef := strings.TrimSpace(item.InputRef)
		if inputRef == "" {
			return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "submit", fmt.Sprintf("item %d has no input reference", i), nil)
		}
		kind := strings.TrimSpace(item.Kind)
		if kind == "" {
			kind = routing.KindConvert
		}
		queueName, err := routing.QueueFor(kind)
		if err != nil {
			return nil, nil, err
		}
		specs = append(specs, queue.NewTaskSpec{InputRef: inputRef, Kind: kind, Queue: queueName})
	}

	batch, tasks, err := o.store.CreateBatch(ctx, detail, specs)
	if err != nil {
		return nil, nil, err
	}

	o.tracker.BatchChanged(batch, tasks)
	for _, task := range tasks {
		o.tracker.TaskChanged(task)
	}

	o.logger.Info("batch submitted",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("tasks", len(tasks)),
		logging.String("detail", detail))
	return batch, tasks, nil
}

// TaskProgressed publishes a non-terminal task change.
func (o *Orchestrator) TaskProgressed(task *queue.Task) {
	o.tracker.TaskChanged(task)
}

// TaskFinished publishes a terminal task change and folds it into the owning
// batch. Recomputation is commutative, so concurrent terminal tasks from the
// same batch can arrive in any order.
func (o *Orchestrator) TaskFinished(ctx context.Context, task *queue.Task) error {
	o.tracker.TaskChanged(task)

	if task.Status == queue.TaskFailed {
		reason := task.ErrorMessage
		if err := o.notifier.NotifyTaskFailed(ctx, task.ID, task.BatchID, task.Kind, reason); err != nil {
			o.logger.Warn("task failure notification",
				logging.Int64(logging.FieldTaskID, task.ID),
				logging.Error(err))
		}
	}

	batch, err := o.store.RecomputeBatch(ctx, task.BatchID)
	if err != nil {
		return err
	}
	tasks, err := o.store.TasksForBatch(ctx, task.BatchID)
	if err != nil {
		return err
	}
	o.tracker.BatchChanged(batch, tasks)

	if batch.Status.IsTerminal() {
		duration := time.Duration(0)
		if batch.CompletedAt != nil {
			duration = batch.CompletedAt.Sub(batch.CreatedAt)
		}
		if err := o.notifier.NotifyBatchCompleted(ctx, batch.ID, string(batch.Status), batch.Succeeded, batch.Failed, batch.Cancelled, duration); err != nil {
			o.logger.Warn("batch outcome notification",
				logging.String(logging.FieldBatchID, batch.ID),
				logging.Error(err))
		}
		o.logger.Info("batch finished",
			logging.String(logging.FieldBatchID, batch.ID),
			logging.String("status", string(batch.Status)),
			logging.Int("succeeded", batch.Succeeded),
			logging.Int("failed", batch.Failed),
			logging.Int("cancelled", batch.Cancelled))
	}
	return nil
}

// CancelTask requests cooperative cancellation of a single task. Tasks that
// have not started are cancelled immediately; running attempts observe the
// request at their next checkpoint.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID int64) (*queue.Task, error) {
	task, err := o.store.RequestCancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		if err := o.TaskFinished(ctx, task); err != nil {
			return nil, err
		}
	} else {
		o.tracker.TaskChanged(task)
	}
	return task, nil
}

// CancelBatch requests cancellation of every non-terminal task in a batch.
func (o *Orchestrator) CancelBatch(ctx context.Context, batchID string) (*queue.Batch, error) {
	existing, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "cancel", fmt.Sprintf("batch %s not found", batchID), nil)
	}

	cancelledIDs, err := o.store.CancelBatchTasks(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, id := range cancelledIDs {
		task, err := o.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task != nil {
			o.tracker.TaskChanged(task)
		}
	}

	batch, err := o.store.RecomputeBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	tasks, err := o.store.TasksForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	o.tracker.BatchChanged(batch, tasks)

	o.logger.Info("batch cancellation requested",
		logging.String(logging.FieldBatchID, batchID),
		logging.Int("cancelled_now", len(cancelledIDs)))
	return batch, nil
}
