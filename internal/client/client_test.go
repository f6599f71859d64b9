package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lathe/internal/api"
	"lathe/internal/progress"
	"lathe/internal/services"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, server
}

func TestSubmitRoundTrip(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/batches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req api.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		if len(req.Items) != 2 || req.Items[0].Input != "inputs/a.bin" {
			t.Errorf("unexpected request body: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.SubmitResponse{
			Batch:   api.Batch{ID: "b-1", Total: 2},
			TaskIDs: []int64{1, 2},
		})
	}))

	out, err := c.Submit(context.Background(), api.SubmitRequest{
		Items: []api.SubmitItem{{Input: "inputs/a.bin"}, {Input: "inputs/b.bin", Kind: "preview"}},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out.Batch.ID != "b-1" || len(out.TaskIDs) != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestErrorPayloadClassification(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "batch not found", Kind: "not_found"})
	}))

	_, err := c.Batch(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found classification, got %v", err)
	}
}

func TestCancelTaskPath(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks/42/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.CancelResponse{BatchID: "b-1", Cancelled: []int64{42}})
	}))

	out, err := c.CancelTask(context.Background(), 42)
	if err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if len(out.Cancelled) != 1 || out.Cancelled[0] != 42 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestBatchesStatusQuery(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "processing,pending" {
			t.Errorf("unexpected status query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.BatchListResponse{Batches: []api.Batch{{ID: "b-1"}}})
	}))

	out, err := c.Batches(context.Background(), "processing", "pending")
	if err != nil {
		t.Fatalf("Batches failed: %v", err)
	}
	if len(out.Batches) != 1 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestWatchBatchConsumesStreamUntilClose(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batches/b-1/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		records := []progress.Event{
			{Type: progress.EventBatch, Batch: &progress.BatchSnapshot{BatchID: "b-1", Status: "processing", Total: 1}},
			{Type: progress.EventHeartbeat},
			{Type: progress.EventTask, Task: &progress.TaskSnapshot{TaskID: 1, BatchID: "b-1", Status: "succeeded"}},
			{Type: progress.EventBatch, Batch: &progress.BatchSnapshot{BatchID: "b-1", Status: "completed", Total: 1, Succeeded: 1}},
		}
		for _, evt := range records {
			payload, _ := json.Marshal(evt)
			fmt.Fprintf(w, "%s\n", payload)
			flusher.Flush()
		}
	}))

	var seen []progress.Event
	err := c.WatchBatch(context.Background(), "b-1", func(evt progress.Event) {
		seen = append(seen, evt)
	})
	if err != nil {
		t.Fatalf("WatchBatch failed: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 records, got %d", len(seen))
	}
	last := seen[len(seen)-1]
	if last.Type != progress.EventBatch || last.Batch == nil || last.Batch.Status != "completed" {
		t.Fatalf("unexpected final record: %+v", last)
	}
}

func TestWatchSurfacesInitialFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "task not found", Kind: "not_found"})
	}))

	err := c.WatchTask(context.Background(), 99, func(progress.Event) {})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNilClientReportsUnavailable(t *testing.T) {
	var c *Client
	if _, err := c.Status(context.Background()); !IsDaemonUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
