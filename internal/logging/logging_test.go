package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_RotatesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	rw, err := NewRotatingWriter(dir, 100)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	first := rw.Path()
	line := strings.Repeat("x", 40) + "\n"

	// Two writes fit, the third crosses the threshold.
	for i := 0; i < 3; i++ {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if rw.Path() == first {
		t.Error("expected a fresh file after crossing the rotate threshold")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var rotated int
	for _, e := range entries {
		if strings.Contains(e.Name(), "_rotated_") {
			rotated++
		}
	}
	if rotated != 1 {
		t.Errorf("expected exactly one rotated file, found %d", rotated)
	}
}

func TestRotatingWriter_NoRotationUnderThreshold(t *testing.T) {
	dir := t.TempDir()
	rw, err := NewRotatingWriter(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	first := rw.Path()
	for i := 0; i < 10; i++ {
		rw.Write([]byte("short line\n"))
	}
	if rw.Path() != first {
		t.Error("did not expect rotation under the threshold")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "rbxmon_old.log")
	newFile := filepath.Join(dir, "rbxmon_new.log")
	unrelated := filepath.Join(dir, "notes.txt")
	for _, p := range []string{oldFile, newFile, unrelated} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	if err := os.Chtimes(unrelated, stale, stale); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	deleted, err := CleanupOldLogs(dir, 7)
	if err != nil {
		t.Fatalf("CleanupOldLogs failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expected stale run log to be removed")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("expected fresh run log to survive")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("expected unrelated file to survive")
	}
}

func TestCleanupOldLogs_RetentionDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rbxmon_ancient.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	stale := time.Now().AddDate(-1, 0, 0)
	os.Chtimes(path, stale, stale)

	deleted, err := CleanupOldLogs(dir, 0)
	if err != nil {
		t.Fatalf("CleanupOldLogs failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no deletions with retention disabled, got %d", deleted)
	}
}
