package logtail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s for append: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestSnapshotAndLatest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older.log")
	newer := filepath.Join(dir, "newer.log")
	writeFile(t, older, "a\n")
	writeFile(t, newer, "b\n")
	// Mod times may collide on coarse filesystems; force an order.
	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored\n")

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap, err := tailer.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 2 || !snap[older] || !snap[newer] {
		t.Errorf("unexpected snapshot: %v", snap)
	}

	latest, ok := tailer.Latest()
	if !ok || latest != newer {
		t.Errorf("Latest = %q, %v; want %q", latest, ok, newer)
	}
}

func TestWaitForNewLog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "existing.log"), "old\n")

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap, err := tailer.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fresh := filepath.Join(dir, "fresh.log")
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(fresh, []byte("hello\n"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := tailer.WaitForNewLog(ctx, snap)
	if err != nil {
		t.Fatalf("WaitForNewLog: %v", err)
	}
	if got != fresh {
		t.Errorf("WaitForNewLog = %q, want %q", got, fresh)
	}
}

func TestWaitForNewLog_Cancelled(t *testing.T) {
	tailer, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := tailer.WaitForNewLog(ctx, nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCursor_OnlyNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	writeFile(t, path, "before open 1\nbefore open 2\n")

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := tailer.OpenAtEnd(path)
	if err != nil {
		t.Fatalf("OpenAtEnd: %v", err)
	}
	defer cursor.Close()

	if line, ok := cursor.ReadLine(50 * time.Millisecond); ok {
		t.Fatalf("unexpected pre-open line %q", line)
	}

	appendFile(t, path, "after open\n")
	line, ok := cursor.ReadLine(2 * time.Second)
	if !ok || line != "after open" {
		t.Errorf("ReadLine = %q, %v; want %q", line, ok, "after open")
	}
}

func TestCursor_PartialLineHeldBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	writeFile(t, path, "")

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := tailer.OpenAtEnd(path)
	if err != nil {
		t.Fatalf("OpenAtEnd: %v", err)
	}
	defer cursor.Close()

	appendFile(t, path, "no newline yet")
	if line, ok := cursor.ReadLine(50 * time.Millisecond); ok {
		t.Fatalf("partial line surfaced early: %q", line)
	}

	appendFile(t, path, " and now complete\n")
	line, ok := cursor.ReadLine(2 * time.Second)
	if !ok || line != "no newline yet and now complete" {
		t.Errorf("ReadLine = %q, %v", line, ok)
	}
}

func TestCursor_SwitchesToNewerFile(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.log")
	writeFile(t, oldPath, "history\n")
	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := tailer.OpenAtEnd(oldPath)
	if err != nil {
		t.Fatalf("OpenAtEnd: %v", err)
	}
	defer cursor.Close()

	newPath := filepath.Join(dir, "new.log")
	writeFile(t, newPath, "written before switch\n")

	// First idle read notices the newer file and switches to its end.
	if line, ok := cursor.ReadLine(50 * time.Millisecond); ok {
		t.Fatalf("unexpected line before switch: %q", line)
	}
	if cursor.Path() != newPath {
		t.Fatalf("cursor still on %q, want %q", cursor.Path(), newPath)
	}

	// Content written before the switch stays invisible.
	if line, ok := cursor.ReadLine(50 * time.Millisecond); ok {
		t.Fatalf("pre-switch content leaked: %q", line)
	}

	appendFile(t, newPath, "after switch\n")
	line, ok := cursor.ReadLine(2 * time.Second)
	if !ok || line != "after switch" {
		t.Errorf("ReadLine = %q, %v; want %q", line, ok, "after switch")
	}
}

func TestCursor_CRLFAndInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	writeFile(t, path, "")

	tailer, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := tailer.OpenAtEnd(path)
	if err != nil {
		t.Fatalf("OpenAtEnd: %v", err)
	}
	defer cursor.Close()

	appendFile(t, path, "windows line\r\n")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	f.Write([]byte{0xff, 0xfe, 'o', 'k', '\n'})
	f.Close()

	line, ok := cursor.ReadLine(2 * time.Second)
	if !ok || line != "windows line" {
		t.Fatalf("ReadLine = %q, %v; want stripped CRLF line", line, ok)
	}
	line, ok = cursor.ReadLine(2 * time.Second)
	if !ok {
		t.Fatal("expected a decoded line despite invalid bytes")
	}
	if line == "" || line[len(line)-2:] != "ok" {
		t.Errorf("unexpected decode result %q", line)
	}
}
