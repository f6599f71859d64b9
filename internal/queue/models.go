package queue

import (
	"strings"
	"time"
)

// TaskStatus represents the lifecycle of a task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskRetrying   TaskStatus = "retrying"
	TaskCancelled  TaskStatus = "cancelled"
)

// BatchStatus represents the aggregate lifecycle of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
)

var allTaskStatuses = []TaskStatus{
	TaskQueued,
	TaskProcessing,
	TaskSucceeded,
	TaskFailed,
	TaskRetrying,
	TaskCancelled,
}

var taskStatusSet = func() map[TaskStatus]struct{} {
	set := make(map[TaskStatus]struct{}, len(allTaskStatuses))
	for _, status := range allTaskStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalTaskStatuses = map[TaskStatus]struct{}{
	TaskSucceeded: {},
	TaskFailed:    {},
	TaskCancelled: {},
}

// AllTaskStatuses returns the ordered list of known task statuses.
func AllTaskStatuses() []TaskStatus {
	cp := make([]TaskStatus, len(allTaskStatuses))
	copy(cp, allTaskStatuses)
	return cp
}

// ParseTaskStatus converts a string into a known TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	normalized := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := taskStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a task status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	_, ok := terminalTaskStatuses[s]
	return ok
}

// IsTerminal reports whether a batch status permits no further transitions.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchPartial, BatchFailed:
		return true
	default:
		return false
	}
}

// Severity partially orders task statuses for stream delivery: events on one
// connection never drop below the highest level already delivered. Processing
// and retrying share a level because attempts alternate between them.
func (s TaskStatus) Severity() int {
	switch s {
	case TaskQueued:
		return 0
	case TaskProcessing, TaskRetrying:
		return 1
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return 2
	default:
		return 0
	}
}

// Batch groups tasks submitted together and carries their aggregate outcome.
type Batch struct {
	ID          string
	Status      BatchStatus
	Detail      string
	Total       int
	Succeeded   int
	Failed      int
	Cancelled   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Task is the unit of work for a single item within a batch.
type Task struct {
	ID              int64
	BatchID         string
	InputRef        string
	Kind            string
	Queue           string
	Status          TaskStatus
	ProgressPercent float64
	ProgressMessage string
	Attempts        int
	NextAttemptAt   *time.Time
	ErrorKind       string
	ErrorMessage    string
	ResultRef       string
	CancelRequested bool
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// SetProgress updates the progress pair, clamping the percentage so a single
// attempt never reports a regression.
func (t *Task) SetProgress(percent float64, message string) {
	if percent < t.ProgressPercent {
		percent = t.ProgressPercent
	}
	if percent > 100 {
		percent = 100
	}
	t.ProgressPercent = percent
	if strings.TrimSpace(message) != "" {
		t.ProgressMessage = message
	}
}

// HealthSummary describes aggregated queue counts across the key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Retrying   int
	Succeeded  int
	Failed     int
	Cancelled  int
}

// AggregateBatchStatus derives the batch status from task counts. The
// computation is commutative over the task set: only counts matter, never
// completion order. Cancelled tasks count against the batch like failures.
func AggregateBatchStatus(total, succeeded, failed, cancelled, started int) BatchStatus {
	terminal := succeeded + failed + cancelled
	if total == 0 || terminal < total {
		if started > 0 || terminal > 0 {
			return BatchProcessing
		}
		return BatchPending
	}
	switch {
	case succeeded == total:
		return BatchCompleted
	case succeeded > 0:
		return BatchPartial
	default:
		return BatchFailed
	}
}
