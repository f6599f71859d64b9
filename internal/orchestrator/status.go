package orchestrator

import (
	"context"
	"fmt"

	"lathe/internal/progress"
	"lathe/internal/services"
)

// BatchStatus returns the current batch snapshot with its member task
// snapshots. The snapshot store answers when it can; the queue store is the
// authoritative fallback after a restart or expiry.
func (o *Orchestrator) BatchStatus(ctx context.Context, batchID string) (*progress.BatchSnapshot, []progress.TaskSnapshot, error) {
	tasks, err := o.store.TasksForBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	taskSnaps := make([]progress.TaskSnapshot, 0, len(tasks))
	for _, task := range tasks {
		taskSnaps = append(taskSnaps, progress.TaskSnapshotFrom(task))
	}

	if snap, err := o.tracker.Snapshots().GetBatch(batchID); err == nil && snap != nil {
		return snap, taskSnaps, nil
	}

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "orchestrator", "status", fmt.Sprintf("batch %s not found", batchID), nil)
	}
	snap := progress.BatchSnapshotFrom(batch, tasks)
	return &snap, taskSnaps, nil
}

// TaskStatus returns the current task snapshot.
func (o *Orchestrator) TaskStatus(ctx context.Context, taskID int64) (*progress.TaskSnapshot, error) {
	if snap, err := o.tracker.Snapshots().GetTask(taskID); err == nil && snap != nil {
		return snap, nil
	}

	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "status", fmt.Sprintf("task %d not found", taskID), nil)
	}
	snap := progress.TaskSnapshotFrom(task)
	return &snap, nil
}
