package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"lathe/internal/config"
	"lathe/internal/services"
)

// Uploader performs one upload and reports its progress percentage.
type Uploader interface {
	Upload(ctx context.Context, path string, report func(percent float64)) (batchID string, err error)
}

// Settings carries the resolved upload queue knobs.
type Settings struct {
	MaxConcurrent   int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	StatePath       string
	ExpireCompleted time.Duration
}

// SettingsFromConfig resolves the configuration values.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxConcurrent:   cfg.Transfer.MaxConcurrentUploads,
		MaxRetries:      cfg.Transfer.MaxRetries,
		RetryBaseDelay:  time.Duration(cfg.Transfer.RetryBaseDelay) * time.Second,
		StatePath:       cfg.TransferStatePath(),
		ExpireCompleted: time.Duration(cfg.Transfer.ExpireCompletedHours) * time.Hour,
	}
}

func (s *Settings) normalize() {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 2
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = time.Second
	}
}

// attempt tracks an in-flight upload and the outcome requested for it.
type attempt struct {
	cancel context.CancelFunc
	pause  bool
	abort  bool
}

// Queue manages uploads with a concurrency cap. All mutations run under one
// mutex, so operations on the same item never interleave destructively.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	uploader Uploader
	settings Settings

	items   map[string]*Item
	order   []string
	active  map[string]*attempt
	pending map[string]*time.Timer
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// Open loads any persisted queue state and returns a ready queue.
func Open(uploader Uploader, settings Settings) (*Queue, error) {
	settings.normalize()
	items, err := loadState(settings.StatePath, settings.ExpireCompleted)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		uploader: uploader,
		settings: settings,
		items:    make(map[string]*Item, len(items)),
		active:   make(map[string]*attempt),
		pending:  make(map[string]*time.Timer),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, item := range items {
		q.items[item.ID] = item
		q.order = append(q.order, item.ID)
	}
	return q, nil
}

// Add registers a local file as a queued upload.
func (q *Queue) Add(path string) (Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "add", fmt.Sprintf("stat %s", path), err)
	}
	if info.IsDir() {
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "add", fmt.Sprintf("%s is a directory", path), nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	item := &Item{
		ID:        uuid.NewString(),
		Path:      path,
		Size:      info.Size(),
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	q.items[item.ID] = item
	q.order = append(q.order, item.ID)
	q.persistLocked()
	return *item, nil
}

// Start activates one queued or paused item if a slot is free; otherwise it
// stays queued until the next refill.
func (q *Queue) Start(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.itemLocked(id)
	if err != nil {
		return Item{}, err
	}
	switch item.Status {
	case StatusQueued, StatusPaused:
	default:
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "start", fmt.Sprintf("item is %s", item.Status), nil)
	}
	item.Status = StatusQueued
	item.Progress = 0
	if len(q.active) < q.settings.MaxConcurrent {
		q.launchLocked(item)
	}
	q.persistLocked()
	return *item, nil
}

// StartAll activates queued items up to the concurrency cap. Items beyond
// the cap remain queued and are pulled in automatically as slots free up.
func (q *Queue) StartAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	q.refillLocked()
	q.persistLocked()
	return q.listLocked()
}

// Pause stops an uploading item at the next chunk boundary.
func (q *Queue) Pause(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.itemLocked(id)
	if err != nil {
		return Item{}, err
	}
	if item.Status != StatusUploading {
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "pause", fmt.Sprintf("item is %s", item.Status), nil)
	}
	if att := q.active[id]; att != nil {
		att.pause = true
		att.cancel()
	}
	return *item, nil
}

// PauseAll pauses every uploading item.
func (q *Queue) PauseAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
	for id, att := range q.active {
		if item := q.items[id]; item != nil && item.Status == StatusUploading {
			att.pause = true
			att.cancel()
		}
	}
	return q.listLocked()
}

// Cancel terminates an item regardless of whether it is queued, paused, or
// in flight.
func (q *Queue) Cancel(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.itemLocked(id)
	if err != nil {
		return Item{}, err
	}
	if item.Status.IsTerminal() {
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "cancel", fmt.Sprintf("item is already %s", item.Status), nil)
	}
	q.cancelLocked(item)
	q.persistLocked()
	return *item, nil
}

// CancelAll cancels every non-terminal item.
func (q *Queue) CancelAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
	for _, id := range q.order {
		if item := q.items[id]; item != nil && !item.Status.IsTerminal() {
			q.cancelLocked(item)
		}
	}
	q.persistLocked()
	return q.listLocked()
}

func (q *Queue) cancelLocked(item *Item) {
	if timer := q.pending[item.ID]; timer != nil {
		timer.Stop()
		delete(q.pending, item.ID)
	}
	if att := q.active[item.ID]; att != nil {
		att.abort = true
		att.cancel()
		return
	}
	item.Status = StatusCancelled
	now := time.Now().UTC()
	item.CompletedAt = &now
	q.cond.Broadcast()
}

// Retry requeues a failed item while retries remain. Beyond the limit it is
// a no-op and the item stays failed.
func (q *Queue) Retry(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.itemLocked(id)
	if err != nil {
		return Item{}, err
	}
	if item.Status != StatusFailed {
		return Item{}, services.Wrap(services.ErrValidation, "transfer", "retry", fmt.Sprintf("item is %s", item.Status), nil)
	}
	if item.Retries >= q.settings.MaxRetries {
		return *item, nil
	}
	item.Retries++
	item.Status = StatusQueued
	item.Progress = 0
	item.Error = ""
	item.CompletedAt = nil
	if q.started {
		q.refillLocked()
	}
	q.persistLocked()
	return *item, nil
}

// List returns the items in insertion order.
func (q *Queue) List() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked()
}

// Clear drops terminal items from the queue.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		item := q.items[id]
		if item != nil && item.Status.IsTerminal() {
			delete(q.items, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	q.persistLocked()
	return removed
}

// Wait blocks until no uploads are in flight and no retries are pending.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.active) > 0 || len(q.pending) > 0 {
		q.cond.Wait()
	}
}

// Close stops in-flight uploads, requeues them, and persists the final
// state for the next session.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.started = false
	for id, timer := range q.pending {
		timer.Stop()
		delete(q.pending, id)
	}
	for _, att := range q.active {
		att.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked()
	return nil
}

func (q *Queue) itemLocked(id string) (*Item, error) {
	item := q.items[id]
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "transfer", "lookup", fmt.Sprintf("item %s not found", id), nil)
	}
	return item, nil
}

func (q *Queue) listLocked() []Item {
	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		if item := q.items[id]; item != nil {
			out = append(out, *item)
		}
	}
	return out
}

// refillLocked launches queued items oldest-first until the cap is reached.
func (q *Queue) refillLocked() {
	if q.closed {
		return
	}
	for _, id := range q.order {
		if len(q.active) >= q.settings.MaxConcurrent {
			return
		}
		item := q.items[id]
		if item == nil || item.Status != StatusQueued {
			continue
		}
		if q.active[id] != nil || q.pending[id] != nil {
			continue
		}
		q.launchLocked(item)
	}
}

func (q *Queue) launchLocked(item *Item) {
	ctx, cancel := context.WithCancel(context.Background())
	att := &attempt{cancel: cancel}
	q.active[item.ID] = att

	now := time.Now().UTC()
	item.Status = StatusUploading
	item.StartedAt = &now

	q.wg.Add(1)
	go q.run(ctx, item.ID, item.Path, att)
}

func (q *Queue) run(ctx context.Context, id, path string, att *attempt) {
	defer q.wg.Done()
	batchID, err := q.uploader.Upload(ctx, path, func(percent float64) {
		q.setProgress(id, percent)
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
	defer q.cond.Broadcast()

	item := q.items[id]
	if item == nil {
		return
	}
	now := time.Now().UTC()
	switch {
	case err == nil:
		item.Status = StatusCompleted
		item.Progress = 100
		item.BatchID = batchID
		item.Error = ""
		item.CompletedAt = &now
	case att.pause:
		item.Status = StatusPaused
		item.StartedAt = nil
	case att.abort:
		item.Status = StatusCancelled
		item.CompletedAt = &now
	case q.closed:
		// Shutdown interrupted the upload; requeue without consuming a
		// retry so the next session picks it up fresh.
		item.Status = StatusQueued
		item.Progress = 0
		item.StartedAt = nil
	case item.Retries < q.settings.MaxRetries:
		item.Retries++
		item.Status = StatusQueued
		item.Progress = 0
		item.Error = err.Error()
		item.StartedAt = nil
		q.scheduleRetryLocked(item)
	default:
		item.Status = StatusFailed
		item.Error = err.Error()
		item.CompletedAt = &now
	}
	q.persistLocked()
	if q.started {
		q.refillLocked()
	}
}

// scheduleRetryLocked holds a failed item out of the refill scan until its
// backoff elapses.
func (q *Queue) scheduleRetryLocked(item *Item) {
	delay := q.settings.RetryBaseDelay
	for i := 1; i < item.Retries; i++ {
		delay *= 2
	}
	id := item.ID
	q.pending[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.pending, id)
		if q.started {
			q.refillLocked()
		}
		q.cond.Broadcast()
	})
}

func (q *Queue) setProgress(id string, percent float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.items[id]
	if item == nil || item.Status != StatusUploading {
		return
	}
	if percent < item.Progress {
		percent = item.Progress
	}
	if percent > 100 {
		percent = 100
	}
	item.Progress = percent
}

// persistLocked writes the state file after a queue mutation. Progress
// ticks are not persisted; only state transitions are.
func (q *Queue) persistLocked() {
	if q.settings.StatePath == "" {
		return
	}
	_ = saveState(q.settings.StatePath, q.snapshotLocked())
}

func (q *Queue) snapshotLocked() []*Item {
	out := make([]*Item, 0, len(q.order))
	for _, id := range q.order {
		if item := q.items[id]; item != nil {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out
}
