package queue

import (
	"database/sql"
	"errors"
	"time"
)

const taskColumns = "id, batch_id, input_ref, kind, queue_name, status, progress_percent, progress_message, attempts, next_attempt_at, error_kind, error_message, result_ref, cancel_requested, last_heartbeat, created_at, updated_at"

const batchColumns = "id, status, detail, total, succeeded, failed, cancelled, created_at, updated_at, completed_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id              int64
		batchID         string
		inputRef        string
		kind            string
		queueName       string
		statusStr       string
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		attempts        sql.NullInt64
		nextAttemptRaw  sql.NullString
		errorKind       sql.NullString
		errorMessage    sql.NullString
		resultRef       sql.NullString
		cancelRequested sql.NullInt64
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&inputRef,
		&kind,
		&queueName,
		&statusStr,
		&progressPercent,
		&progressMessage,
		&attempts,
		&nextAttemptRaw,
		&errorKind,
		&errorMessage,
		&resultRef,
		&cancelRequested,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:              id,
		BatchID:         batchID,
		InputRef:        inputRef,
		Kind:            kind,
		Queue:           queueName,
		Status:          TaskStatus(statusStr),
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		Attempts:        int(attempts.Int64),
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
		ResultRef:       resultRef.String,
		CancelRequested: cancelRequested.Int64 != 0,
	}

	if nextAttemptRaw.Valid {
		if next, err := parseTimeString(nextAttemptRaw.String); err == nil {
			task.NextAttemptAt = &next
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			task.LastHeartbeat = &heartbeat
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id           string
		statusStr    string
		detail       sql.NullString
		total        sql.NullInt64
		succeeded    sql.NullInt64
		failed       sql.NullInt64
		cancelled    sql.NullInt64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&statusStr,
		&detail,
		&total,
		&succeeded,
		&failed,
		&cancelled,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:        id,
		Status:    BatchStatus(statusStr),
		Detail:    detail.String,
		Total:     int(total.Int64),
		Succeeded: int(succeeded.Int64),
		Failed:    int(failed.Int64),
		Cancelled: int(cancelled.Int64),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		batch.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			batch.CompletedAt = &completed
		}
	}
	return batch, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
