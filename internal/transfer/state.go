package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lathe/internal/fileutil"
)

// stateFile is the persisted snapshot of the queue.
type stateFile struct {
	Items []*Item `json:"items"`
}

// loadState reads the persisted queue, if any. In-flight uploads from a
// previous run cannot resume, so uploading items come back as queued with
// their progress reset.
func loadState(path string, expireCompleted time.Duration) ([]*Item, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transfer state: %w", err)
	}
	var state stateFile
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode transfer state: %w", err)
	}

	cutoff := time.Now().Add(-expireCompleted)
	items := make([]*Item, 0, len(state.Items))
	for _, item := range state.Items {
		if item == nil || item.ID == "" {
			continue
		}
		if expireCompleted > 0 && item.Status.IsTerminal() && item.CompletedAt != nil && item.CompletedAt.Before(cutoff) {
			continue
		}
		if item.Status == StatusUploading {
			item.Status = StatusQueued
			item.Progress = 0
			item.StartedAt = nil
		}
		items = append(items, item)
	}
	return items, nil
}

// saveState writes the snapshot atomically so a crash mid-write never
// truncates the previous state.
func saveState(path string, items []*Item) error {
	raw, err := json.MarshalIndent(stateFile{Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transfer state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transfer state dir: %w", err)
	}
	if err := fileutil.WriteAtomic(path, raw, 0o644); err != nil {
		return fmt.Errorf("write transfer state: %w", err)
	}
	return nil
}
