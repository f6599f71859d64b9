package progress_test

import (
	"context"
	"testing"
	"time"

	"lathe/internal/progress"
)

func taskEvent(taskID int64, batchID, status string, percent float64) progress.Event {
	return progress.Event{
		Type: progress.EventTask,
		Task: &progress.TaskSnapshot{TaskID: taskID, BatchID: batchID, Status: status, Percent: percent},
	}
}

func TestHubAssignsMonotonicSequences(t *testing.T) {
	hub := progress.NewHub(8)

	first := hub.Publish(taskEvent(1, "b1", "processing", 10))
	second := hub.Publish(taskEvent(1, "b1", "processing", 20))
	if first.Sequence == 0 || second.Sequence <= first.Sequence {
		t.Fatalf("unexpected sequences: %d %d", first.Sequence, second.Sequence)
	}

	events, next, err := hub.Fetch(context.Background(), 0, 0, false, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if next != second.Sequence {
		t.Fatalf("expected cursor %d, got %d", second.Sequence, next)
	}
}

func TestHubFetchFiltersByBatch(t *testing.T) {
	hub := progress.NewHub(8)
	hub.Publish(taskEvent(1, "b1", "processing", 10))
	hub.Publish(taskEvent(2, "b2", "processing", 50))
	hub.Publish(progress.Event{Type: progress.EventBatch, Batch: &progress.BatchSnapshot{BatchID: "b1", Status: "processing"}})

	events, _, err := hub.Fetch(context.Background(), 0, 0, false, progress.BatchFilter("b1"))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 matching events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.Type == progress.EventTask && evt.Task.BatchID != "b1" {
			t.Fatalf("unexpected event: %#v", evt)
		}
	}
}

func TestHubFetchResumesAfterLimit(t *testing.T) {
	hub := progress.NewHub(8)
	for i := 0; i < 5; i++ {
		hub.Publish(taskEvent(int64(i+1), "b1", "processing", float64(i)))
	}

	first, cursor, err := hub.Fetch(context.Background(), 0, 2, false, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 events, got %d", len(first))
	}

	rest, _, err := hub.Fetch(context.Background(), cursor, 0, false, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("expected remaining 3 events, got %d", len(rest))
	}
	if rest[0].Task.TaskID != 3 {
		t.Fatalf("expected resume at task 3, got %d", rest[0].Task.TaskID)
	}
}

func TestHubFetchBlocksUntilPublish(t *testing.T) {
	hub := progress.NewHub(8)

	done := make(chan []progress.Event, 1)
	go func() {
		events, _, err := hub.Fetch(context.Background(), 0, 0, true, progress.TaskFilter(7))
		if err != nil {
			done <- nil
			return
		}
		done <- events
	}()

	// Non-matching publish must not satisfy the waiter.
	hub.Publish(taskEvent(1, "b1", "processing", 10))
	select {
	case <-done:
		t.Fatal("fetch returned on non-matching event")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Publish(taskEvent(7, "b1", "succeeded", 100))
	select {
	case events := <-done:
		if len(events) != 1 || events[0].Task.TaskID != 7 {
			t.Fatalf("unexpected events: %#v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after matching publish")
	}
}

func TestHubFetchHonorsContextCancel(t *testing.T) {
	hub := progress.NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, 0, 0, true, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not observe cancellation")
	}
}

func TestHubDropsOldestBeyondCapacity(t *testing.T) {
	hub := progress.NewHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(taskEvent(int64(i+1), "b1", "processing", 0))
	}

	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("expected oldest buffered sequence 3, got %d", first)
	}
	events, _, err := hub.Fetch(context.Background(), 0, 0, false, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 3 || events[0].Task.TaskID != 3 {
		t.Fatalf("unexpected buffer contents: %#v", events)
	}
}
