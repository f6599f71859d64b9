package transfer

import "time"

// Status is the lifecycle state of one upload.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Item is one file in the upload queue.
type Item struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Retries     int        `json:"retries"`
	BatchID     string     `json:"batch_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
