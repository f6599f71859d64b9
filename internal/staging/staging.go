// Package staging owns the daemon's staging directory: uploaded inputs are
// written here under collision-free names, and a periodic sweep reclaims
// files that outlived their batch's retention window.
package staging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lathe/internal/logging"
	"lathe/internal/textutil"
)

// Stage writes src into dir under a unique name derived from the
// client-supplied filename and returns the staged path. Partial files are
// removed on error.
func Stage(dir, name string, src io.Reader) (string, error) {
	base := textutil.SanitizeFileName(filepath.Base(strings.TrimSpace(name)))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload"
	}

	staged := filepath.Join(dir, uuid.NewString()+"-"+base)
	dst, err := os.Create(staged)
	if err != nil {
		return "", fmt.Errorf("stage uploaded file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return staged, nil
}

// SweepExpired removes staged entries whose modification time is at or before
// the cutoff. Entries newer than the cutoff still back tasks within retention
// and are left alone.
func SweepExpired(dir string, cutoff time.Time, logger *slog.Logger) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	swept := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			if logger != nil {
				logger.Warn("remove staged file",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"))
			}
			continue
		}
		swept++
	}
	return swept, nil
}
