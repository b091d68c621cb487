// Package logtail follows the game client's append-only log files:
// discovery of freshly created files, tailing from end-of-file, and
// transparent switching when the client rotates to a newer file.
package logtail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback cadence for directory polling while
// waiting for a new log file. fsnotify events normally arrive first;
// the poll covers missed events and filesystems without notification
// support.
const pollInterval = 500 * time.Millisecond

// logPattern matches the files the game client writes.
const logPattern = "*.log"

// Tailer discovers and follows log files in a single directory.
type Tailer struct {
	dir string
}

// New returns a Tailer for dir. The directory must exist; a missing
// directory is a configuration error reported once at startup.
func New(dir string) (*Tailer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("log directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log path is not a directory: %s", dir)
	}
	return &Tailer{dir: dir}, nil
}

// Dir returns the watched directory.
func (t *Tailer) Dir() string { return t.dir }

// Snapshot returns the set of log files currently present, used to
// tell pre-existing files apart from ones created later.
func (t *Tailer) Snapshot() (map[string]bool, error) {
	matches, err := filepath.Glob(filepath.Join(t.dir, logPattern))
	if err != nil {
		return nil, err
	}
	snap := make(map[string]bool, len(matches))
	for _, m := range matches {
		snap[m] = true
	}
	return snap, nil
}

// Latest returns the newest log file in the directory by modification
// time, or ok=false when the directory holds none.
func (t *Tailer) Latest() (string, bool) {
	return newestExcept(t.dir, nil)
}

// newestExcept returns the newest log file not present in exclude.
func newestExcept(dir string, exclude map[string]bool) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, logPattern))
	if err != nil {
		return "", false
	}
	var newest string
	var newestMod time.Time
	for _, m := range matches {
		if exclude[m] {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	return newest, newest != ""
}

// WaitForNewLog blocks until a log file not present in existing
// appears, returning the newest such file. It watches the directory
// with fsnotify and polls every 500ms as a fallback. Returns ctx.Err()
// on cancellation.
func (t *Tailer) WaitForNewLog(ctx context.Context, existing map[string]bool) (string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(t.dir); err != nil {
			slog.Debug("fsnotify watch failed, relying on polling", "dir", t.dir, "error", err)
		}
	} else {
		slog.Debug("fsnotify unavailable, relying on polling", "error", err)
		watcher = nil
	}

	// A file may already have appeared between Snapshot and here.
	if path, ok := newestExcept(t.dir, existing); ok {
		return path, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&fsnotify.Create == 0 || !strings.HasSuffix(ev.Name, ".log") {
				continue
			}
			if path, ok := newestExcept(t.dir, existing); ok {
				return path, nil
			}
		case <-ticker.C:
			if path, ok := newestExcept(t.dir, existing); ok {
				return path, nil
			}
		}
	}
}
