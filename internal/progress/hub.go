package progress

import (
	"context"
	"sync"
	"time"
)

// Filter selects events a caller cares about. A nil Filter matches everything.
type Filter func(Event) bool

// TaskFilter matches events about the given task.
func TaskFilter(taskID int64) Filter {
	return func(evt Event) bool {
		return evt.Type == EventTask && evt.Task != nil && evt.Task.TaskID == taskID
	}
}

// BatchFilter matches events about the given batch, including its tasks.
func BatchFilter(batchID string) Filter {
	return func(evt Event) bool {
		switch evt.Type {
		case EventTask:
			return evt.Task != nil && evt.Task.BatchID == batchID
		case EventBatch:
			return evt.Batch != nil && evt.Batch.BatchID == batchID
		}
		return false
	}
}

// Hub stores recent progress events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
}

// NewHub constructs a bounded in-memory progress fan-out buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends a new event to the hub and assigns its sequence.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
	return evt
}

// Fetch returns matching events with sequence greater than since. When wait is
// true, Fetch blocks until at least one matching event is available or the
// context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool, filter Filter) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(since, limit, filter)
		if len(events) > 0 || !wait {
			return events, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

// LastSequence reports the sequence of the most recently published event.
// Callers take it before reading authoritative snapshots so the stream can
// resume without a gap.
func (h *Hub) LastSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Sequence
}

func (h *Hub) snapshotLocked(since uint64, limit int, filter Filter) ([]Event, uint64) {
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if filter != nil && !filter(evt) {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			// Advance the cursor only to what was delivered so truncated
			// results can be resumed without loss.
			return out, evt.Sequence
		}
	}
	return out, h.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
