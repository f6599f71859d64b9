package api

import (
	"time"

	"lathe/internal/progress"
	"lathe/internal/queue"
)

// FromTask converts a queue record to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:           task.ID,
		BatchID:      task.BatchID,
		InputRef:     task.InputRef,
		Kind:         task.Kind,
		Queue:        task.Queue,
		Status:       string(task.Status),
		Percent:      task.ProgressPercent,
		Message:      task.ProgressMessage,
		Attempts:     task.Attempts,
		ErrorKind:    task.ErrorKind,
		ErrorMessage: task.ErrorMessage,
		ResultRef:    task.ResultRef,
	}
	dto.UpdatedAt = formatTime(task.UpdatedAt)
	return dto
}

// FromTaskSnapshot converts a stream snapshot to its API representation.
func FromTaskSnapshot(snap progress.TaskSnapshot) Task {
	return Task{
		ID:           snap.TaskID,
		BatchID:      snap.BatchID,
		Kind:         snap.Kind,
		Queue:        snap.Queue,
		Status:       snap.Status,
		Percent:      snap.Percent,
		Message:      snap.Message,
		Attempts:     snap.Attempts,
		ErrorKind:    snap.ErrorKind,
		ErrorMessage: snap.ErrorMessage,
		ResultRef:    snap.ResultRef,
		UpdatedAt:    formatTime(snap.UpdatedAt),
	}
}

// FromBatch converts a batch record to its API representation.
func FromBatch(batch *queue.Batch) Batch {
	if batch == nil {
		return Batch{}
	}
	dto := Batch{
		ID:        batch.ID,
		Status:    string(batch.Status),
		Detail:    batch.Detail,
		Total:     batch.Total,
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Cancelled: batch.Cancelled,
		CreatedAt: formatTime(batch.CreatedAt),
		UpdatedAt: formatTime(batch.UpdatedAt),
	}
	if batch.CompletedAt != nil {
		dto.CompletedAt = formatTime(*batch.CompletedAt)
	}
	return dto
}

// FromBatchSnapshot converts a stream snapshot to its API representation.
func FromBatchSnapshot(snap progress.BatchSnapshot) Batch {
	dto := Batch{
		ID:        snap.BatchID,
		Status:    snap.Status,
		Total:     snap.Total,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		Cancelled: snap.Cancelled,
		Percent:   snap.Percent,
		UpdatedAt: formatTime(snap.UpdatedAt),
	}
	if snap.CompletedAt != nil {
		dto.CompletedAt = formatTime(*snap.CompletedAt)
	}
	return dto
}

// FromHealth converts queue health counts for transport.
func FromHealth(summary queue.HealthSummary) QueueHealth {
	return QueueHealth{
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Retrying:   summary.Retrying,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Cancelled:  summary.Cancelled,
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}
