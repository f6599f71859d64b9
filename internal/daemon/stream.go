package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lathe/internal/logging"
	"lathe/internal/progress"
	"lathe/internal/queue"
	"lathe/internal/services"
)

const streamFetchLimit = 256

// streamBatch serves an NDJSON feed for one batch: an authoritative snapshot
// first, then live events until the batch reaches a terminal status or the
// client goes away.
func (s *apiServer) streamBatch(w http.ResponseWriter, r *http.Request, id string) {
	hub := s.daemon.tracker.Hub()
	// Capture the cursor before the snapshot read so nothing published in
	// between is lost. Overlapping events replay harmlessly.
	since := hub.LastSequence()

	batch, tasks, err := s.daemon.orch.BatchStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	stream, ok := s.newEventStream(w)
	if !ok {
		return
	}
	now := time.Now().UTC()
	batchEvt := progress.Event{Type: progress.EventBatch, Timestamp: now, Batch: batch}
	terminal := queue.BatchStatus(batch.Status).IsTerminal()
	// A finished batch emits its terminal event after the member snapshots
	// so the terminal event is the last record on the connection.
	if !terminal {
		if err := stream.send(batchEvt); err != nil {
			return
		}
	}
	for i := range tasks {
		snap := tasks[i]
		evt := progress.Event{Type: progress.EventTask, Timestamp: now, Task: &snap}
		stream.observe(evt)
		if err := stream.send(evt); err != nil {
			return
		}
	}
	if terminal {
		_ = stream.send(batchEvt)
		return
	}

	s.pumpEvents(r.Context(), stream, since, progress.BatchFilter(id), func(evt progress.Event) bool {
		return evt.Type == progress.EventBatch && evt.Terminal()
	})
}

// streamTask serves an NDJSON feed for a single task.
func (s *apiServer) streamTask(w http.ResponseWriter, r *http.Request, id int64) {
	hub := s.daemon.tracker.Hub()
	since := hub.LastSequence()

	snap, err := s.daemon.orch.TaskStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	stream, ok := s.newEventStream(w)
	if !ok {
		return
	}
	evt := progress.Event{Type: progress.EventTask, Timestamp: time.Now().UTC(), Task: snap}
	stream.observe(evt)
	if err := stream.send(evt); err != nil {
		return
	}
	if evt.Terminal() {
		return
	}

	s.pumpEvents(r.Context(), stream, since, progress.TaskFilter(id), func(evt progress.Event) bool {
		return evt.Type == progress.EventTask && evt.Terminal()
	})
}

// pumpEvents forwards hub events to the stream until the done predicate
// matches, the client disconnects, or the daemon shuts down. Quiet periods
// produce heartbeat records so proxies keep the connection open.
func (s *apiServer) pumpEvents(ctx context.Context, stream *eventStream, since uint64, filter progress.Filter, done func(progress.Event) bool) {
	hub := s.daemon.tracker.Hub()
	heartbeat := time.Duration(s.daemon.cfg.Progress.StreamHeartbeat) * time.Second

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, heartbeat)
		events, next, err := hub.Fetch(fetchCtx, since, streamFetchLimit, true, filter)
		cancel()

		for _, evt := range events {
			if stream.stale(evt) {
				continue
			}
			stream.observe(evt)
			if sendErr := stream.send(evt); sendErr != nil {
				return
			}
			if done(evt) {
				return
			}
		}
		since = next

		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			s.log().Warn("event stream fetch failed", logging.Error(err))
			return
		}
		if len(events) == 0 {
			if sendErr := stream.send(progress.Heartbeat()); sendErr != nil {
				return
			}
		}
	}
}

// eventStream writes NDJSON records and drops task events that would walk a
// task below a status severity the connection already delivered.
type eventStream struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	enc      *json.Encoder
	severity map[int64]int
}

func (s *apiServer) newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported", string(services.KindConfiguration))
		return nil, false
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{
		w:        w,
		flusher:  flusher,
		enc:      json.NewEncoder(w),
		severity: make(map[int64]int),
	}, true
}

func (es *eventStream) send(evt progress.Event) error {
	if err := es.enc.Encode(evt); err != nil {
		return err
	}
	es.flusher.Flush()
	return nil
}

func (es *eventStream) observe(evt progress.Event) {
	if evt.Type != progress.EventTask || evt.Task == nil {
		return
	}
	status, ok := queue.ParseTaskStatus(evt.Task.Status)
	if !ok {
		return
	}
	if sev := status.Severity(); sev > es.severity[evt.Task.TaskID] {
		es.severity[evt.Task.TaskID] = sev
	}
}

// stale reports whether the event replays state below a severity the stream
// already delivered for that task.
func (es *eventStream) stale(evt progress.Event) bool {
	if evt.Type != progress.EventTask || evt.Task == nil {
		return false
	}
	status, ok := queue.ParseTaskStatus(evt.Task.Status)
	if !ok {
		return false
	}
	return status.Severity() < es.severity[evt.Task.TaskID]
}
