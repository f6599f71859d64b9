package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lathe/internal/services"
)

// GetTask fetches a task by identifier.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ClaimNext atomically claims the oldest runnable task on a queue and marks it
// processing. Runnable means queued, or retrying with an elapsed backoff gate.
// The single UPDATE guarantees at most one worker ever holds an attempt for a
// task. Returns nil when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context, queueName string) (*Task, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var task *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE tasks
             SET status = ?, attempts = attempts + 1, progress_percent = 0,
                 progress_message = NULL, error_kind = NULL, error_message = NULL,
                 next_attempt_at = NULL, last_heartbeat = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM tasks
                 WHERE queue_name = ?
                   AND cancel_requested = 0
                   AND (status = ? OR (status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?))
                 ORDER BY created_at, id
                 LIMIT 1
             )
             RETURNING `+taskColumns,
			TaskProcessing,
			timestamp,
			timestamp,
			queueName,
			TaskQueued,
			TaskRetrying,
			timestamp,
		)
		claimed, scanErr := scanTask(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			task = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		task = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// UpdateTaskProgress persists a progress write for an in-flight attempt.
func (s *Store) UpdateTaskProgress(ctx context.Context, id int64, percent float64, message string) error {
	if err := s.execWithoutResultRetry(
		ensureContext(ctx),
		`UPDATE tasks
         SET progress_percent = MAX(progress_percent, ?), progress_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		percent,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		TaskProcessing,
	); err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp for an in-flight attempt.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ensureContext(ctx),
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// RequestCancel flags a task for cooperative cancellation. Tasks that are not
// mid-attempt transition to cancelled immediately; a processing task keeps
// running until its worker observes the flag between attempts. Returns the
// refreshed task.
func (s *Store) RequestCancel(ctx context.Context, id int64) (*Task, error) {
	ctx = ensureContext(ctx)

	existing, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "request cancel", fmt.Sprintf("task %d not found", id), nil)
	}
	if existing.Status.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "queue", "request cancel", fmt.Sprintf("task %d already finished as %s", id, existing.Status), nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE tasks SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status NOT IN (?, ?, ?)`,
		now,
		id,
		TaskSucceeded,
		TaskFailed,
		TaskCancelled,
	); err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, progress_message = ?, next_attempt_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		TaskCancelled,
		"Cancelled before processing",
		now,
		id,
		TaskQueued,
		TaskRetrying,
	); err != nil {
		return nil, fmt.Errorf("cancel pending task: %w", err)
	}

	return s.GetTask(ctx, id)
}

// CancelBatchTasks flags every non-terminal task in a batch for cancellation.
// A task that reaches a terminal state between the listing and its cancel
// request is skipped rather than failing the whole batch. Returns the
// affected task IDs.
func (s *Store) CancelBatchTasks(ctx context.Context, batchID string) ([]int64, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM tasks WHERE batch_id = ? AND status NOT IN (?, ?, ?)`,
		batchID,
		TaskSucceeded,
		TaskFailed,
		TaskCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("list cancellable tasks: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cancelled := ids[:0]
	for _, id := range ids {
		if _, err := s.RequestCancel(ctx, id); err != nil {
			if errors.Is(err, services.ErrValidation) {
				// Finished between the listing and the cancel request.
				continue
			}
			return cancelled, err
		}
		cancelled = append(cancelled, id)
	}
	return cancelled, nil
}

// ListTasks returns tasks filtered by status, newest first.
func (s *Store) ListTasks(ctx context.Context, statuses ...TaskStatus) ([]*Task, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
