package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"lathe/internal/logging"
	"lathe/internal/services"
)

func newBufferLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: levelVar})
	return slog.New(handler), &buf
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsTaskFields(t *testing.T) {
	logger, buf := newBufferLogger(t)

	ctx := services.WithTaskID(context.Background(), 12)
	ctx = services.WithBatchID(ctx, "b-1")
	ctx = services.WithQueueName(ctx, "conversion")

	logging.WithContext(ctx, logger).Info("claimed")

	out := buf.String()
	for _, fragment := range []string{`"task_id":12`, `"batch_id":"b-1"`, `"queue":"conversion"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %s in output %s", fragment, out)
		}
	}
}

func TestComponentLoggerTagsComponent(t *testing.T) {
	logger, buf := newBufferLogger(t)
	logging.NewComponentLogger(logger, "worker").Info("started")
	if !strings.Contains(buf.String(), `"component":"worker"`) {
		t.Fatalf("expected component field, got %s", buf.String())
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Info("nothing happens")
	logger.Error("still nothing", logging.Error(nil))
}
