package progress

import (
	"time"

	"lathe/internal/queue"
)

// EventType distinguishes the two snapshot scopes carried on the stream.
type EventType string

const (
	EventTask  EventType = "task"
	EventBatch EventType = "batch"

	// EventHeartbeat is a stream keepalive record; it never enters the hub.
	EventHeartbeat EventType = "heartbeat"
)

// Heartbeat builds a keepalive record for long-lived streams.
func Heartbeat() Event {
	return Event{Type: EventHeartbeat, Timestamp: time.Now().UTC()}
}

// TaskSnapshot is the externally visible state of one task.
type TaskSnapshot struct {
	TaskID       int64     `json:"task_id"`
	BatchID      string    `json:"batch_id"`
	Kind         string    `json:"kind"`
	Queue        string    `json:"queue"`
	Status       string    `json:"status"`
	Percent      float64   `json:"percent"`
	Message      string    `json:"message,omitempty"`
	Attempts     int       `json:"attempts"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResultRef    string    `json:"result_ref,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BatchSnapshot is the externally visible state of one batch.
type BatchSnapshot struct {
	BatchID     string     `json:"batch_id"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Cancelled   int        `json:"cancelled"`
	Percent     float64    `json:"percent"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is one record on the progress stream. Exactly one of Task or Batch is
// set, matching Type.
type Event struct {
	Sequence  uint64         `json:"seq"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Task      *TaskSnapshot  `json:"task,omitempty"`
	Batch     *BatchSnapshot `json:"batch,omitempty"`
}

// Terminal reports whether the event describes a finished task or batch.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventTask:
		if e.Task == nil {
			return false
		}
		status, ok := queue.ParseTaskStatus(e.Task.Status)
		return ok && status.IsTerminal()
	case EventBatch:
		if e.Batch == nil {
			return false
		}
		return queue.BatchStatus(e.Batch.Status).IsTerminal()
	}
	return false
}

// TaskSnapshotFrom projects a task row into its stream representation.
func TaskSnapshotFrom(task *queue.Task) TaskSnapshot {
	snap := TaskSnapshot{
		TaskID:    task.ID,
		BatchID:   task.BatchID,
		Kind:      task.Kind,
		Queue:     task.Queue,
		Status:    string(task.Status),
		Percent:   task.ProgressPercent,
		Message:   task.ProgressMessage,
		Attempts:  task.Attempts,
		UpdatedAt: task.UpdatedAt,
	}
	snap.ErrorKind = task.ErrorKind
	snap.ErrorMessage = task.ErrorMessage
	snap.ResultRef = task.ResultRef
	return snap
}

// BatchSnapshotFrom projects a batch row into its stream representation. The
// percent is the mean of the member task percents, so a half-done two-task
// batch reads as 25 when one task has not started.
func BatchSnapshotFrom(batch *queue.Batch, tasks []*queue.Task) BatchSnapshot {
	snap := BatchSnapshot{
		BatchID:     batch.ID,
		Status:      string(batch.Status),
		Total:       batch.Total,
		Succeeded:   batch.Succeeded,
		Failed:      batch.Failed,
		Cancelled:   batch.Cancelled,
		UpdatedAt:   batch.UpdatedAt,
		CompletedAt: batch.CompletedAt,
	}
	if len(tasks) > 0 {
		var sum float64
		for _, task := range tasks {
			sum += task.ProgressPercent
		}
		snap.Percent = sum / float64(len(tasks))
	}
	return snap
}
