package queue

import (
	"context"
	"fmt"
	"time"
)

// Health returns aggregated task counts for observability surfaces.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	var summary HealthSummary
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0)
         FROM tasks`,
		TaskQueued,
		TaskProcessing,
		TaskRetrying,
		TaskSucceeded,
		TaskFailed,
		TaskCancelled,
	)
	if err := row.Scan(
		&summary.Total,
		&summary.Queued,
		&summary.Processing,
		&summary.Retrying,
		&summary.Succeeded,
		&summary.Failed,
		&summary.Cancelled,
	); err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	return summary, nil
}

// QueueDepth returns the number of runnable tasks waiting on a queue.
func (s *Store) QueueDepth(ctx context.Context, queueName string) (int, error) {
	var depth int
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(*) FROM tasks WHERE queue_name = ? AND status IN (?, ?)`,
		queueName,
		TaskQueued,
		TaskRetrying,
	)
	if err := row.Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// DeleteExpiredBatches removes terminal batches (and their tasks, via cascade)
// whose completion time is older than the cutoff. Returns the number of
// batches removed.
func (s *Store) DeleteExpiredBatches(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`DELETE FROM batches
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		BatchCompleted,
		BatchPartial,
		BatchFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired batches: %w", err)
	}
	return res.RowsAffected()
}
