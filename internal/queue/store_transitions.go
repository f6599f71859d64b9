package queue

import (
	"context"
	"fmt"
	"time"

	"lathe/internal/services"
)

// transition runs a guarded status update and rejects it when the task is not
// in a state the transition allows.
func (s *Store) transition(ctx context.Context, operation, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrValidation, "queue", operation, "task is not in a state that allows this transition", nil)
	}
	return nil
}

// MarkSucceeded finishes an attempt with a result reference.
func (s *Store) MarkSucceeded(ctx context.Context, id int64, resultRef, message string) (*Task, error) {
	ctx = ensureContext(ctx)
	if err := s.transition(
		ctx,
		"mark succeeded",
		`UPDATE tasks
         SET status = ?, progress_percent = 100, progress_message = ?, result_ref = ?,
             error_kind = NULL, error_message = NULL, next_attempt_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		TaskSucceeded,
		nullableString(message),
		nullableString(resultRef),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		TaskProcessing,
	); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// MarkFailed finishes an attempt as a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id int64, errorKind, errorMessage string) (*Task, error) {
	ctx = ensureContext(ctx)
	if err := s.transition(
		ctx,
		"mark failed",
		`UPDATE tasks
         SET status = ?, progress_message = ?, error_kind = ?, error_message = ?,
             next_attempt_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		TaskFailed,
		nullableString(errorMessage),
		nullableString(errorKind),
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		TaskProcessing,
	); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// MarkRetrying schedules another attempt after a transient failure. The task
// re-enters its own queue once nextAttempt elapses; the cumulative attempt
// count is preserved. A task already in retrying may be rescheduled again.
func (s *Store) MarkRetrying(ctx context.Context, id int64, nextAttempt time.Time, errorKind, errorMessage string) (*Task, error) {
	ctx = ensureContext(ctx)
	if err := s.transition(
		ctx,
		"mark retrying",
		`UPDATE tasks
         SET status = ?, progress_percent = 0, progress_message = ?, error_kind = ?, error_message = ?,
             next_attempt_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		TaskRetrying,
		nullableString(errorMessage),
		nullableString(errorKind),
		nullableString(errorMessage),
		nextAttempt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		TaskProcessing,
		TaskRetrying,
	); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// MarkCancelled finishes an attempt after the worker observed a cancel request.
func (s *Store) MarkCancelled(ctx context.Context, id int64, message string) (*Task, error) {
	ctx = ensureContext(ctx)
	if err := s.transition(
		ctx,
		"mark cancelled",
		`UPDATE tasks
         SET status = ?, progress_message = ?, next_attempt_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		TaskCancelled,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		TaskProcessing,
		TaskQueued,
		TaskRetrying,
	); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// ReclaimStaleProcessing returns tasks whose heartbeats expired back to queued
// so another worker can pick them up. The interrupted attempt still counts.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE tasks
         SET status = ?, progress_percent = 0, progress_message = 'Reclaimed from stale processing',
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		TaskQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		TaskProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// FailInFlight marks every processing task failed; used when the daemon stops
// without finishing its queue.
func (s *Store) FailInFlight(ctx context.Context, reason string) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE tasks
         SET status = ?, error_kind = 'transient', error_message = ?, progress_message = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		TaskFailed,
		reason,
		reason,
		time.Now().UTC().Format(time.RFC3339Nano),
		TaskProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight tasks: %w", err)
	}
	return res.RowsAffected()
}
