package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"lathe/internal/queue"
	"lathe/internal/services"
	"lathe/internal/testsupport"
)

func TestCreateBatchAssignsTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	batch, tasks, err := store.CreateBatch(ctx, "standard", []queue.NewTaskSpec{
		{InputRef: "inputs/a.txt", Kind: "convert", Queue: "conversion"},
		{InputRef: "inputs/b.txt", Kind: "preview", Queue: "priority"},
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if batch.ID == "" {
		t.Fatal("expected batch ID to be assigned")
	}
	if batch.Status != queue.BatchPending {
		t.Fatalf("expected pending batch, got %s", batch.Status)
	}
	if batch.Total != 2 {
		t.Fatalf("expected total 2, got %d", batch.Total)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ID == 0 {
			t.Fatal("expected task ID to be assigned")
		}
		if task.BatchID != batch.ID {
			t.Fatalf("task %d bound to batch %q, want %q", task.ID, task.BatchID, batch.ID)
		}
		if task.Status != queue.TaskQueued {
			t.Fatalf("expected queued task, got %s", task.Status)
		}
	}

	fetched, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if fetched == nil || fetched.Total != 2 {
		t.Fatalf("unexpected fetched batch: %#v", fetched)
	}

	listed, err := store.TasksForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("TasksForBatch failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 tasks for batch, got %d", len(listed))
	}
	if listed[0].ID > listed[1].ID {
		t.Fatal("expected tasks ordered by creation")
	}
}

func TestCreateBatchRejectsEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, _, err := store.CreateBatch(context.Background(), "standard", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClaimNextHandsOutEachTaskOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	_, tasks := testsupport.NewBatch(t, store, "convert", "conversion", "one", "two")

	first, err := store.ClaimNext(ctx, "conversion")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if first == nil || first.ID != tasks[0].ID {
		t.Fatalf("expected oldest task first, got %#v", first)
	}
	if first.Status != queue.TaskProcessing {
		t.Fatalf("expected processing after claim, got %s", first.Status)
	}
	if first.Attempts != 1 {
		t.Fatalf("expected attempts 1 after claim, got %d", first.Attempts)
	}

	second, err := store.ClaimNext(ctx, "conversion")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if second == nil || second.ID != tasks[1].ID {
		t.Fatalf("expected second task, got %#v", second)
	}

	third, err := store.ClaimNext(ctx, "conversion")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue, got %#v", third)
	}
}

func TestClaimNextSkipsOtherQueues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewBatch(t, store, "convert", "conversion", "one")

	task, err := store.ClaimNext(context.Background(), "priority")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if task != nil {
		t.Fatalf("expected no task on priority queue, got %#v", task)
	}
}

func TestClaimNextHonorsRetryDelay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	_, tasks := testsupport.NewBatch(t, store, "convert", "conversion", "one")

	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkRetrying(ctx, claimed.ID, time.Now().Add(time.Hour), "transient", "boom"); err != nil {
		t.Fatalf("MarkRetrying failed: %v", err)
	}

	early, err := store.ClaimNext(ctx, "conversion")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if early != nil {
		t.Fatalf("expected backoff to hold task back, got %#v", early)
	}

	if _, err := store.MarkRetrying(ctx, claimed.ID, time.Now().Add(-time.Second), "transient", "boom"); err != nil {
		t.Fatalf("MarkRetrying failed: %v", err)
	}
	due, err := store.ClaimNext(ctx, "conversion")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if due == nil || due.ID != tasks[0].ID {
		t.Fatalf("expected retrying task once due, got %#v", due)
	}
	if due.Attempts != 2 {
		t.Fatalf("expected attempts 2 on second claim, got %d", due.Attempts)
	}
}

func TestUpdateTaskProgressNeverDecreases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewBatch(t, store, "convert", "conversion", "one")
	task, err := store.ClaimNext(ctx, "conversion")
	if err != nil || task == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, task)
	}

	if err := store.UpdateTaskProgress(ctx, task.ID, 60, "encoding"); err != nil {
		t.Fatalf("UpdateTaskProgress failed: %v", err)
	}
	if err := store.UpdateTaskProgress(ctx, task.ID, 40, "stale update"); err != nil {
		t.Fatalf("UpdateTaskProgress failed: %v", err)
	}

	updated, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if updated.ProgressPercent != 60 {
		t.Fatalf("expected progress held at 60, got %.1f", updated.ProgressPercent)
	}
}

func TestMarkSucceededOnlyFromProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	_, tasks := testsupport.NewBatch(t, store, "convert", "conversion", "one")

	if _, err := store.MarkSucceeded(ctx, tasks[0].ID, "outputs/one", "done"); err == nil {
		t.Fatal("expected error succeeding a queued task")
	}

	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkSucceeded(ctx, claimed.ID, "outputs/one", "done"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	done, err := store.GetTask(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if done.Status != queue.TaskSucceeded {
		t.Fatalf("expected succeeded, got %s", done.Status)
	}
	if done.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %.1f", done.ProgressPercent)
	}
	if done.ResultRef != "outputs/one" {
		t.Fatalf("unexpected result ref: %q", done.ResultRef)
	}
}

func TestRequestCancelQueuedTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	_, tasks := testsupport.NewBatch(t, store, "convert", "conversion", "one")

	task, err := store.RequestCancel(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if task.Status != queue.TaskCancelled {
		t.Fatalf("expected queued task cancelled immediately, got %s", task.Status)
	}

	if claimed, err := store.ClaimNext(ctx, "conversion"); err != nil || claimed != nil {
		t.Fatalf("expected cancelled task unclaimable, got %#v (%v)", claimed, err)
	}
}

func TestRequestCancelProcessingSetsFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewBatch(t, store, "convert", "conversion", "one")
	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}

	task, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if task.Status != queue.TaskProcessing {
		t.Fatalf("expected in-flight task to stay processing, got %s", task.Status)
	}
	if !task.CancelRequested {
		t.Fatal("expected cancel flag set")
	}
}

func TestRequestCancelTerminalTaskFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewBatch(t, store, "convert", "conversion", "one")
	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkSucceeded(ctx, claimed.ID, "out", "done"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	if _, err := store.RequestCancel(ctx, claimed.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error cancelling terminal task, got %v", err)
	}
}

func TestCancelBatchTasksToleratesFinishedSiblings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	batch, tasks := testsupport.NewBatch(t, store, "convert", "conversion", "one", "two")

	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkSucceeded(ctx, claimed.ID, "outputs/one", "done"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	ids, err := store.CancelBatchTasks(ctx, batch.ID)
	if err != nil {
		t.Fatalf("CancelBatchTasks failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one cancellable task, got %v", ids)
	}

	finished, err := store.GetTask(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if finished.Status != queue.TaskSucceeded {
		t.Fatalf("expected finished task untouched, got %s", finished.Status)
	}
	for _, task := range tasks {
		if task.ID == claimed.ID {
			continue
		}
		remaining, err := store.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if remaining.Status != queue.TaskCancelled {
			t.Fatalf("expected queued sibling cancelled, got %s", remaining.Status)
		}
	}
}

func TestRecomputeBatchOrderIndependent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	batch, _ := testsupport.NewBatch(t, store, "convert", "conversion", "one", "two", "three")

	finish := func(result string, fail bool) {
		t.Helper()
		claimed, err := store.ClaimNext(ctx, "conversion")
		if err != nil || claimed == nil {
			t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
		}
		if fail {
			_, err = store.MarkFailed(ctx, claimed.ID, "permanent", "bad input")
		} else {
			_, err = store.MarkSucceeded(ctx, claimed.ID, result, "done")
		}
		if err != nil {
			t.Fatalf("terminal transition failed: %v", err)
		}
		if _, err := store.RecomputeBatch(ctx, batch.ID); err != nil {
			t.Fatalf("RecomputeBatch failed: %v", err)
		}
	}

	finish("out-1", false)
	mid, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if mid.Status != queue.BatchProcessing {
		t.Fatalf("expected processing mid-batch, got %s", mid.Status)
	}
	if mid.CompletedAt != nil {
		t.Fatal("expected no completion time mid-batch")
	}

	finish("", true)
	finish("out-3", false)

	final, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if final.Status != queue.BatchPartial {
		t.Fatalf("expected partial outcome, got %s", final.Status)
	}
	if final.Succeeded != 2 || final.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", final)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completion time once terminal")
	}

	// A later recompute must not move the completion timestamp.
	stamp := *final.CompletedAt
	if _, err := store.RecomputeBatch(ctx, batch.ID); err != nil {
		t.Fatalf("RecomputeBatch failed: %v", err)
	}
	again, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if again.CompletedAt == nil || !again.CompletedAt.Equal(stamp) {
		t.Fatalf("completion time moved: %v -> %v", stamp, again.CompletedAt)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewBatch(t, store, "convert", "conversion", "one")
	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if err := store.UpdateHeartbeat(ctx, claimed.ID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected fresh heartbeat untouched, reclaimed %d", count)
	}

	count, err = store.ReclaimStaleProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 task reclaimed, got %d", count)
	}

	reclaimed, err := store.GetTask(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if reclaimed.Status != queue.TaskQueued {
		t.Fatalf("expected reclaimed task queued, got %s", reclaimed.Status)
	}
}

func TestDeleteExpiredBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	batch, _ := testsupport.NewBatch(t, store, "convert", "conversion", "one")
	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkSucceeded(ctx, claimed.ID, "out", "done"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if _, err := store.RecomputeBatch(ctx, batch.ID); err != nil {
		t.Fatalf("RecomputeBatch failed: %v", err)
	}

	removed, err := store.DeleteExpiredBatches(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredBatches failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected recent batch retained, removed %d", removed)
	}

	removed, err = store.DeleteExpiredBatches(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredBatches failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 batch removed, got %d", removed)
	}

	gone, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected batch deleted, got %#v", gone)
	}
	if task, err := store.GetTask(ctx, claimed.ID); err != nil || task != nil {
		t.Fatalf("expected cascade to remove tasks, got %#v (%v)", task, err)
	}
}

func TestHealthCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewBatch(t, store, "convert", "conversion", "one", "two", "three")
	claimed, err := store.ClaimNext(ctx, "conversion")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %#v", err, claimed)
	}
	if _, err := store.MarkSucceeded(ctx, claimed.ID, "out", "done"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if _, err := store.ClaimNext(ctx, "conversion"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	summary, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if summary.Total != 3 || summary.Queued != 1 || summary.Processing != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	depth, err := store.QueueDepth(ctx, "conversion")
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}
