package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a task in a transport-friendly format.
type Task struct {
	ID           int64   `json:"id"`
	BatchID      string  `json:"batchId"`
	InputRef     string  `json:"inputRef,omitempty"`
	Kind         string  `json:"kind"`
	Queue        string  `json:"queue"`
	Status       string  `json:"status"`
	Percent      float64 `json:"percent"`
	Message      string  `json:"message,omitempty"`
	Attempts     int     `json:"attempts"`
	ErrorKind    string  `json:"errorKind,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	ResultRef    string  `json:"resultRef,omitempty"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
}

// Batch summarizes a batch and its outcome counts.
type Batch struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Detail      string  `json:"detail,omitempty"`
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	Percent     float64 `json:"percent"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
	CompletedAt string  `json:"completedAt,omitempty"`
}

// SubmitItem is one piece of work inside a submission.
type SubmitItem struct {
	Input string `json:"input"`
	Kind  string `json:"kind,omitempty"`
}

// SubmitRequest asks the daemon to create a batch from the given items.
type SubmitRequest struct {
	Items  []SubmitItem `json:"items"`
	Detail string       `json:"detail,omitempty"`
}

// SubmitResponse reports the created batch and its task identifiers.
type SubmitResponse struct {
	Batch   Batch   `json:"batch"`
	TaskIDs []int64 `json:"taskIds"`
}

// BatchResponse wraps a batch together with its member tasks.
type BatchResponse struct {
	Batch Batch  `json:"batch"`
	Tasks []Task `json:"tasks"`
}

// BatchListResponse wraps a collection of batches.
type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// CancelResponse reports which tasks a cancellation request touched.
type CancelResponse struct {
	BatchID   string  `json:"batchId,omitempty"`
	Cancelled []int64 `json:"cancelled,omitempty"`
}

// QueueHealth provides normalized per-status task counts.
type QueueHealth struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Workers      map[string]int `json:"workers,omitempty"`
	Depths       map[string]int `json:"depths,omitempty"`
	Health       QueueHealth    `json:"health"`
}

// ErrorResponse is the body returned for any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
