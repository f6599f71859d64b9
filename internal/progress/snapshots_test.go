package progress_test

import (
	"testing"
	"time"

	"lathe/internal/progress"
	"lathe/internal/queue"
)

func openSnapshots(t *testing.T) *progress.SnapshotStore {
	t.Helper()
	store, err := progress.OpenSnapshots(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("OpenSnapshots failed: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openSnapshots(t)

	task := progress.TaskSnapshot{TaskID: 42, BatchID: "b1", Status: "processing", Percent: 33.5, Attempts: 1}
	if err := store.PutTask(task, false); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	got, err := store.GetTask(42)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil || got.Percent != 33.5 || got.BatchID != "b1" {
		t.Fatalf("unexpected snapshot: %#v", got)
	}

	batch := progress.BatchSnapshot{BatchID: "b1", Status: "processing", Total: 3, Succeeded: 1}
	if err := store.PutBatch(batch, false); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}
	gotBatch, err := store.GetBatch("b1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if gotBatch == nil || gotBatch.Total != 3 {
		t.Fatalf("unexpected snapshot: %#v", gotBatch)
	}
}

func TestSnapshotMissingKeyReturnsNil(t *testing.T) {
	store := openSnapshots(t)

	task, err := store.GetTask(999)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil for missing task, got %#v", task)
	}
	batch, err := store.GetBatch("missing")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil for missing batch, got %#v", batch)
	}
}

func TestSnapshotOverwriteKeepsLatest(t *testing.T) {
	store := openSnapshots(t)

	if err := store.PutTask(progress.TaskSnapshot{TaskID: 1, Status: "processing", Percent: 10}, false); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	if err := store.PutTask(progress.TaskSnapshot{TaskID: 1, Status: "succeeded", Percent: 100}, true); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	got, err := store.GetTask(1)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil || got.Status != "succeeded" || got.Percent != 100 {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestTrackerPersistsAndPublishes(t *testing.T) {
	store := openSnapshots(t)
	hub := progress.NewHub(16)
	tracker := progress.NewTracker(hub, store, nil)

	now := time.Now().UTC()
	task := &queue.Task{
		ID:              5,
		BatchID:         "b1",
		Kind:            "convert",
		Queue:           "conversion",
		Status:          queue.TaskProcessing,
		ProgressPercent: 40,
		ProgressMessage: "rendering",
		Attempts:        1,
		UpdatedAt:       now,
	}
	evt := tracker.TaskChanged(task)
	if evt.Sequence == 0 || evt.Type != progress.EventTask {
		t.Fatalf("unexpected event: %#v", evt)
	}
	if evt.Terminal() {
		t.Fatal("processing event must not be terminal")
	}

	snap, err := store.GetTask(5)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if snap == nil || snap.Percent != 40 || snap.Message != "rendering" {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}

	batch := &queue.Batch{ID: "b1", Status: queue.BatchCompleted, Total: 1, Succeeded: 1, UpdatedAt: now}
	tasks := []*queue.Task{{ProgressPercent: 100}}
	batchEvt := tracker.BatchChanged(batch, tasks)
	if !batchEvt.Terminal() {
		t.Fatal("completed batch event must be terminal")
	}
	if batchEvt.Batch.Percent != 100 {
		t.Fatalf("unexpected batch percent %.1f", batchEvt.Batch.Percent)
	}
}
