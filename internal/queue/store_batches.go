package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lathe/internal/services"
)

// NewTaskSpec describes one item of a batch submission.
type NewTaskSpec struct {
	InputRef string
	Kind     string
	Queue    string
}

// CreateBatch inserts a batch and its tasks in one transaction. Every task
// starts queued; the batch starts pending.
func (s *Store) CreateBatch(ctx context.Context, detail string, specs []NewTaskSpec) (*Batch, []*Task, error) {
	ctx = ensureContext(ctx)
	if len(specs) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "queue", "create batch", "batch requires at least one item", nil)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	batchID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO batches (id, status, detail, total, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		batchID,
		BatchPending,
		detail,
		len(specs),
		timestamp,
		timestamp,
	); err != nil {
		return nil, nil, fmt.Errorf("insert batch: %w", err)
	}

	tasks := make([]*Task, 0, len(specs))
	for _, spec := range specs {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO tasks (batch_id, input_ref, kind, queue_name, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			batchID,
			spec.InputRef,
			spec.Kind,
			spec.Queue,
			TaskQueued,
			timestamp,
			timestamp,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("last insert id: %w", err)
		}
		tasks = append(tasks, &Task{
			ID:        id,
			BatchID:   batchID,
			InputRef:  spec.InputRef,
			Kind:      spec.Kind,
			Queue:     spec.Queue,
			Status:    TaskQueued,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}

	batch := &Batch{
		ID:        batchID,
		Status:    BatchPending,
		Detail:    detail,
		Total:     len(specs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return batch, tasks, nil
}

// GetBatch fetches a batch by identifier.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches ordered newest first, optionally filtered by status.
func (s *Store) ListBatches(ctx context.Context, statuses ...BatchStatus) ([]*Batch, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + batchColumns + ` FROM batches`
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
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// TasksForBatch returns the batch's tasks in creation order.
func (s *Store) TasksForBatch(ctx context.Context, batchID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch tasks: %w", err)
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

// RecomputeBatch refreshes a batch's aggregate status and counts from its task
// set. The counting is commutative, so completion order never changes the
// outcome. Returns the refreshed batch.
func (s *Store) RecomputeBatch(ctx context.Context, batchID string) (*Batch, error) {
	ctx = ensureContext(ctx)

	var total, succeeded, failed, cancelled, started int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(status = ?), 0),
                COALESCE(SUM(attempts > 0), 0)
         FROM tasks WHERE batch_id = ?`,
		TaskSucceeded,
		TaskFailed,
		TaskCancelled,
		batchID,
	)
	if err := row.Scan(&total, &succeeded, &failed, &cancelled, &started); err != nil {
		return nil, fmt.Errorf("count batch tasks: %w", err)
	}

	status := AggregateBatchStatus(total, succeeded, failed, cancelled, started)
	now := time.Now().UTC()
	var completedAt any
	if status.IsTerminal() {
		completedAt = now.Format(time.RFC3339Nano)
	}

	// Terminal batches are immutable: COALESCE keeps the first completion time.
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE batches
         SET status = ?, succeeded = ?, failed = ?, cancelled = ?, updated_at = ?,
             completed_at = COALESCE(completed_at, ?)
         WHERE id = ?`,
		status,
		succeeded,
		failed,
		cancelled,
		now.Format(time.RFC3339Nano),
		completedAt,
		batchID,
	); err != nil {
		return nil, fmt.Errorf("update batch aggregate: %w", err)
	}

	return s.GetBatch(ctx, batchID)
}
