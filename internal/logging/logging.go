package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures the default slog logger: a tint handler on stderr,
// optionally mirrored into a rotating run log under logDir. Returns the
// rotating writer so callers can close it on shutdown; it is nil when
// logDir is empty.
func Setup(verbose int, logDir string, rotateBytes int64) (*RotatingWriter, error) {
	level := slog.LevelInfo
	if verbose >= 1 {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var rw *RotatingWriter
	if logDir != "" {
		var err error
		rw, err = NewRotatingWriter(logDir, rotateBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open run log: %w", err)
		}
		out = io.MultiWriter(os.Stderr, rw)
	}

	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    rw != nil, // escape codes would pollute the run log
	})
	slog.SetDefault(slog.New(handler))
	return rw, nil
}

// CleanupOldLogs deletes run logs in dir older than retentionDays.
// A retention of 0 keeps everything. Returns the number of files removed.
func CleanupOldLogs(dir string, retentionDays int) (int, error) {
	if retentionDays == 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), runLogPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				slog.Warn("Failed to delete old run log", "file", entry.Name(), "error", err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}
