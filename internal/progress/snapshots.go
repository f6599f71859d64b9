package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"lathe/internal/services"
)

// SnapshotStore persists the latest task and batch snapshots so status reads
// survive daemon restarts without replaying the queue. Terminal snapshots
// carry a TTL and expire with the retention window.
type SnapshotStore struct {
	db        *badger.DB
	retention time.Duration
}

// OpenSnapshots opens (or creates) the snapshot database in dir.
func OpenSnapshots(dir string, retention time.Duration) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "progress", "open", fmt.Sprintf("open snapshot store at %s", dir), err)
	}
	return &SnapshotStore{db: db, retention: retention}, nil
}

// Close releases the underlying database.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func taskKey(taskID int64) []byte {
	return fmt.Appendf(nil, "task/%020d", taskID)
}

func batchKey(batchID string) []byte {
	return fmt.Appendf(nil, "batch/%s", batchID)
}

// PutTask stores the latest snapshot for a task.
func (s *SnapshotStore) PutTask(snap TaskSnapshot, terminal bool) error {
	return s.put(taskKey(snap.TaskID), snap, terminal)
}

// PutBatch stores the latest snapshot for a batch.
func (s *SnapshotStore) PutBatch(snap BatchSnapshot, terminal bool) error {
	return s.put(batchKey(snap.BatchID), snap, terminal)
}

func (s *SnapshotStore) put(key []byte, value any, terminal bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if terminal && s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// GetTask returns the stored snapshot for a task, or nil when absent.
func (s *SnapshotStore) GetTask(taskID int64) (*TaskSnapshot, error) {
	var snap TaskSnapshot
	found, err := s.get(taskKey(taskID), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// GetBatch returns the stored snapshot for a batch, or nil when absent.
func (s *SnapshotStore) GetBatch(batchID string) (*BatchSnapshot, error) {
	var snap BatchSnapshot
	found, err := s.get(batchKey(batchID), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (s *SnapshotStore) get(key []byte, out any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	return true, nil
}

// RunGC reclaims value-log space. Safe to call periodically.
func (s *SnapshotStore) RunGC() {
	if s == nil || s.db == nil {
		return
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}
