package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const runLogPrefix = "rbxmon_"

// RotatingWriter appends to a run log file and renames it aside once it
// exceeds maxBytes, starting a fresh file. Safe for concurrent use.
type RotatingWriter struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	file     *os.File
	size     int64
}

// NewRotatingWriter opens a fresh run log in dir, creating the
// directory if needed.
func NewRotatingWriter(dir string, maxBytes int64) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw := &RotatingWriter{dir: dir, maxBytes: maxBytes}
	if err := rw.openFresh(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Path returns the path of the current run log file.
func (rw *RotatingWriter) Path() string {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return ""
	}
	return rw.file.Name()
}

func (rw *RotatingWriter) openFresh() error {
	name := fmt.Sprintf("%s%s.log", runLogPrefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(rw.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.maxBytes > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotateLocked(); err != nil {
			// Rotation failure must not lose the log line; keep
			// appending to the oversized file.
			fmt.Fprintf(os.Stderr, "run log rotation failed: %v\n", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotateLocked() error {
	old := rw.file.Name()
	rw.file.Close()

	rotated := fmt.Sprintf("%s_rotated_%d.log", old[:len(old)-len(".log")], time.Now().Unix())
	if err := os.Rename(old, rotated); err != nil {
		// Reopen the original so writes keep going somewhere.
		f, openErr := os.OpenFile(old, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if openErr != nil {
			return fmt.Errorf("rename failed (%v) and reopen failed: %w", err, openErr)
		}
		rw.file = f
		return fmt.Errorf("failed to rename run log: %w", err)
	}
	return rw.openFresh()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
