package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lathe/internal/logging"
	"lathe/internal/queue"
	"lathe/internal/services"
)

// runAttempt executes a claimed task once: heartbeats while it runs, watches
// for cancel requests, and settles the outcome with the store before handing
// the terminal transition to the orchestrator.
func (m *Manager) runAttempt(ctx context.Context, logger *slog.Logger, task *queue.Task) error {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithBatchID(ctx, task.BatchID)
	ctx = services.WithQueueName(ctx, task.Queue)
	logger = logging.WithContext(ctx, logger).With(logging.Int(logging.FieldAttempt, task.Attempts))

	if task.CancelRequested {
		return m.settleCancelled(ctx, logger, task)
	}

	executor, ok := m.executors[task.Kind]
	if !ok {
		return m.settleFailure(ctx, logger, task, services.Wrap(
			services.ErrConfiguration, "worker", "dispatch", executorNotConfigured(task.Kind).Error(), nil))
	}

	m.orch.TaskProgressed(task)
	logger.Info("attempt started", logging.String("kind", task.Kind))

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	var watch sync.WaitGroup
	watch.Add(1)
	cancelObserved := false
	go func() {
		defer watch.Done()
		cancelObserved = m.watchAttempt(attemptCtx, cancelAttempt, task.ID)
	}()

	resultRef, execErr := executor.Execute(attemptCtx, task, func(percent float64, message string) {
		if err := m.store.UpdateTaskProgress(attemptCtx, task.ID, percent, message); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("record progress", logging.Error(err))
			}
			return
		}
		if updated, err := m.store.GetTask(attemptCtx, task.ID); err == nil && updated != nil {
			m.orch.TaskProgressed(updated)
		}
	})

	cancelAttempt()
	watch.Wait()

	if cancelObserved || (execErr != nil && errors.Is(execErr, context.Canceled) && ctx.Err() == nil) {
		return m.settleCancelled(ctx, logger, task)
	}
	if ctx.Err() != nil {
		// Daemon shutdown: leave the row processing for heartbeat reclaim.
		return context.Canceled
	}
	if execErr != nil {
		return m.settleFailure(ctx, logger, task, execErr)
	}

	finished, err := m.store.MarkSucceeded(ctx, task.ID, resultRef, "finished")
	if err != nil {
		return err
	}
	logger.Info("attempt succeeded", logging.String("result_ref", resultRef))
	return m.orch.TaskFinished(ctx, finished)
}

// watchAttempt heartbeats the running attempt and cancels it when the task's
// cancel flag appears. Returns true when cancellation was requested.
func (m *Manager) watchAttempt(ctx context.Context, cancelAttempt context.CancelFunc, taskID int64) bool {
	ticker := time.NewTicker(m.settings.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if err := m.store.UpdateHeartbeat(ctx, taskID); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("heartbeat update", logging.Int64(logging.FieldTaskID, taskID), logging.Error(err))
			}
			current, err := m.store.GetTask(ctx, taskID)
			if err != nil || current == nil {
				continue
			}
			if current.CancelRequested {
				cancelAttempt()
				return true
			}
		}
	}
}

func (m *Manager) settleCancelled(ctx context.Context, logger *slog.Logger, task *queue.Task) error {
	finished, err := m.store.MarkCancelled(ctx, task.ID, "Cancelled by request")
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			// Already settled elsewhere.
			return nil
		}
		return err
	}
	logger.Info("attempt cancelled")
	return m.orch.TaskFinished(ctx, finished)
}

// settleFailure classifies the error and either schedules a retry or marks the
// task failed. Retry exhaustion always ends failed, never retrying.
func (m *Manager) settleFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, execErr error) error {
	details := services.Details(execErr)
	retryable := services.Retryable(execErr) && task.Attempts < m.settings.MaxAttempts

	if retryable {
		delay := m.settings.backoffDelay(task.Attempts)
		retrying, err := m.store.MarkRetrying(ctx, task.ID, time.Now().Add(delay), string(details.Kind), details.Message)
		if err != nil {
			return err
		}
		logger.Warn("attempt failed, retry scheduled",
			logging.String("error_kind", string(details.Kind)),
			logging.Duration("delay", delay),
			logging.Error(execErr))
		m.orch.TaskProgressed(retrying)
		return nil
	}

	failed, err := m.store.MarkFailed(ctx, task.ID, string(details.Kind), details.Message)
	if err != nil {
		return err
	}
	logger.Error("attempt failed permanently",
		logging.String("error_kind", string(details.Kind)),
		logging.Error(execErr))
	return m.orch.TaskFinished(ctx, failed)
}
