package progress

import (
	"log/slog"

	"lathe/internal/logging"
	"lathe/internal/queue"
)

// Tracker is the single write path for progress state: it persists the
// snapshot and then publishes the change to stream subscribers.
type Tracker struct {
	hub       *Hub
	snapshots *SnapshotStore
	logger    *slog.Logger
}

// NewTracker wires a hub and snapshot store together.
func NewTracker(hub *Hub, snapshots *SnapshotStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{hub: hub, snapshots: snapshots, logger: logger.With(logging.String(logging.FieldComponent, "progress"))}
}

// Hub exposes the underlying event hub for stream endpoints.
func (t *Tracker) Hub() *Hub {
	return t.hub
}

// Snapshots exposes the snapshot store for status reads.
func (t *Tracker) Snapshots() *SnapshotStore {
	return t.snapshots
}

// TaskChanged records the task's current state and emits a task event.
func (t *Tracker) TaskChanged(task *queue.Task) Event {
	snap := TaskSnapshotFrom(task)
	terminal := task.Status.IsTerminal()
	if t.snapshots != nil {
		if err := t.snapshots.PutTask(snap, terminal); err != nil {
			t.logger.Warn("persist task snapshot",
				logging.Int64(logging.FieldTaskID, task.ID),
				logging.Error(err))
		}
	}
	return t.hub.Publish(Event{Type: EventTask, Task: &snap})
}

// BatchChanged records the batch's current state and emits a batch event.
func (t *Tracker) BatchChanged(batch *queue.Batch, tasks []*queue.Task) Event {
	snap := BatchSnapshotFrom(batch, tasks)
	terminal := batch.Status.IsTerminal()
	if t.snapshots != nil {
		if err := t.snapshots.PutBatch(snap, terminal); err != nil {
			t.logger.Warn("persist batch snapshot",
				logging.String(logging.FieldBatchID, batch.ID),
				logging.Error(err))
		}
	}
	return t.hub.Publish(Event{Type: EventBatch, Batch: &snap})
}
