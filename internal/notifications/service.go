package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lathe/internal/config"
)

const userAgent = "Lathe/0.1.0"

// Service defines the notification surface exposed to the orchestrator and
// worker pools.
type Service interface {
	NotifyBatchCompleted(ctx context.Context, batchID, status string, succeeded, failed, cancelled int, duration time.Duration) error
	NotifyTaskFailed(ctx context.Context, taskID int64, batchID, kind, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		batchOutcomes: cfg.Notifications.BatchOutcomes,
		taskFailures:  cfg.Notifications.TaskFailures,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	batchOutcomes bool
	taskFailures  bool
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, batchID, status string, succeeded, failed, cancelled int, duration time.Duration) error {
	if !n.batchOutcomes {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title string
	var priority string
	switch status {
	case "completed":
		title = "Lathe - Batch Complete"
	case "partial":
		title = "Lathe - Batch Complete (with errors)"
	default:
		title = "Lathe - Batch Failed"
		priority = "high"
	}

	message := fmt.Sprintf("Batch %s: %d succeeded, %d failed, %d cancelled in %s",
		batchID, succeeded, failed, cancelled, duration)
	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"lathe", "batch", status},
		priority: priority,
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, taskID int64, batchID, kind, reason string) error {
	if !n.taskFailures {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Lathe - Task Failed",
		message:  fmt.Sprintf("Task %d (%s) in batch %s failed: %s", taskID, kind, batchID, reason),
		tags:     []string{"lathe", "task", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Lathe - Test",
		message:  "Notification system test",
		tags:     []string{"lathe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchCompleted(context.Context, string, string, int, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyTaskFailed(context.Context, int64, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
