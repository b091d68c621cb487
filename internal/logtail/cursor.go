package logtail

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// readChunk is the unit of reading from the tailed file.
const readChunk = 64 * 1024

// Cursor reads newly appended lines from a log file. Opened at
// end-of-file, it only ever yields content written after the open.
// When the client rotates to a newer file in the same directory the
// cursor switches to it transparently, again starting at its end.
type Cursor struct {
	dir    string
	path   string
	file   *os.File
	offset int64

	// Complete lines decoded but not yet handed out.
	queue []string
}

// OpenAtEnd opens path positioned at its current end.
func (t *Tailer) OpenAtEnd(path string) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Cursor{dir: t.dir, path: path, file: f, offset: end}, nil
}

// Path returns the file currently being tailed.
func (c *Cursor) Path() string { return c.path }

// Close releases the underlying file handle.
func (c *Cursor) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// ReadLine returns the next complete line, blocking up to timeout for
// one to appear. ok=false means no line arrived within the window; the
// caller simply calls again. A trailing partial line is never returned:
// the cursor re-reads from the same offset until the newline lands.
// While idle it checks for a newer log file and switches to it.
func (c *Cursor) ReadLine(timeout time.Duration) (line string, ok bool) {
	deadline := time.Now().Add(timeout)
	for {
		if len(c.queue) > 0 {
			line = c.queue[0]
			c.queue = c.queue[1:]
			return line, true
		}

		c.fill()
		if len(c.queue) > 0 {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.maybeSwitch()
			return "", false
		}
		sleep := pollInterval
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
	}
}

// fill reads whatever complete lines are available past the current
// offset into the queue. The offset only advances past the last
// newline; bytes after it stay in the file for the next call.
func (c *Cursor) fill() {
	if c.file == nil {
		return
	}
	info, err := c.file.Stat()
	if err != nil {
		slog.Debug("Stat on tailed log failed", "path", c.path, "error", err)
		return
	}
	size := info.Size()
	if size < c.offset {
		// Truncated in place; treat the new content as a fresh start.
		slog.Debug("Tailed log shrank, resetting offset", "path", c.path)
		c.offset = 0
	}
	if size == c.offset {
		return
	}

	avail := size - c.offset
	if avail > readChunk {
		avail = readChunk
	}
	buf := make([]byte, avail)
	n, err := c.file.ReadAt(buf, c.offset)
	if n == 0 {
		if err != nil {
			slog.Debug("Read on tailed log failed", "path", c.path, "error", err)
		}
		return
	}
	buf = buf[:n]

	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		// Only a partial line so far; do not advance.
		return
	}
	c.offset += int64(last + 1)

	for _, raw := range bytes.Split(buf[:last], []byte{'\n'}) {
		c.queue = append(c.queue, decodeLine(raw))
	}
}

// maybeSwitch moves the cursor to a newer log file when one exists,
// opening it at its end. Called only while the current file is idle.
func (c *Cursor) maybeSwitch() {
	newest, ok := newestExcept(c.dir, nil)
	if !ok || newest == c.path {
		return
	}
	f, err := os.Open(newest)
	if err != nil {
		slog.Debug("Failed to open rotated log", "path", newest, "error", err)
		return
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return
	}
	slog.Info("Log file rotated, following newer file", "old", c.path, "new", newest)
	c.Close()
	c.path = newest
	c.file = f
	c.offset = end
}

// decodeLine strips a trailing CR and replaces invalid UTF-8 so a
// mangled log line can never take the tail loop down.
func decodeLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	return strings.ToValidUTF8(string(raw), "�")
}
