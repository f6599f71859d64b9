package testsupport

import (
	"context"
	"testing"

	"lathe/internal/config"
	"lathe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewBatch creates a batch with one task per input ref, all routed to the
// given kind and queue.
func NewBatch(t testing.TB, store *queue.Store, kind, queueName string, inputs ...string) (*queue.Batch, []*queue.Task) {
	t.Helper()

	specs := make([]queue.NewTaskSpec, 0, len(inputs))
	for _, in := range inputs {
		specs = append(specs, queue.NewTaskSpec{InputRef: in, Kind: kind, Queue: queueName})
	}
	batch, tasks, err := store.CreateBatch(context.Background(), "standard", specs)
	if err != nil {
		t.Fatalf("store.CreateBatch: %v", err)
	}
	return batch, tasks
}
