package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_OpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestStore_SessionEvents(t *testing.T) {
	s := openTestStore(t)

	if err := s.LogSessionEvent("session_start", "pid estimate 12m"); err != nil {
		t.Fatalf("Failed to log session event: %v", err)
	}
	if err := s.LogSessionEvent("disconnect", "Lost connection with reason: timeout"); err != nil {
		t.Fatalf("Failed to log session event: %v", err)
	}

	events, err := s.GetRecentSessionEvents(10)
	if err != nil {
		t.Fatalf("Failed to query session events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	// Newest first
	if events[0].EventType != "disconnect" {
		t.Errorf("Expected newest event 'disconnect', got %q", events[0].EventType)
	}
	if events[1].Details != "pid estimate 12m" {
		t.Errorf("Unexpected details %q", events[1].Details)
	}
}

func TestStore_Commands(t *testing.T) {
	s := openTestStore(t)

	if err := s.LogCommand("kill", "discord:123", "killed 1 process"); err != nil {
		t.Fatalf("Failed to log command: %v", err)
	}

	cmds, err := s.GetRecentCommands(5)
	if err != nil {
		t.Fatalf("Failed to query commands: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Command != "kill" || cmds[0].Source != "discord:123" {
		t.Errorf("Unexpected command record: %+v", cmds)
	}
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)

	// The monitor loop journals session events while the hub records
	// commands; both paths must survive lock contention.
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			errs <- s.LogSessionEvent("disconnect", fmt.Sprintf("event %d", n))
		}(i)
		go func(n int) {
			defer wg.Done()
			errs <- s.LogCommand("status", "hub:alice", fmt.Sprintf("request %d", n))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent write failed: %v", err)
		}
	}

	events, err := s.GetRecentSessionEvents(100)
	if err != nil || len(events) != 20 {
		t.Errorf("GetRecentSessionEvents = %d events, %v; want 20", len(events), err)
	}
	cmds, err := s.GetRecentCommands(100)
	if err != nil || len(cmds) != 20 {
		t.Errorf("GetRecentCommands = %d records, %v; want 20", len(cmds), err)
	}
}

func TestStore_UserTokens(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetUserToken("alice", "tok-1"); err != nil {
		t.Fatalf("Failed to set token: %v", err)
	}

	user, ok, err := s.LookupTokenUser("tok-1")
	if err != nil || !ok || user != "alice" {
		t.Fatalf("LookupTokenUser = %q, %v, %v; want alice", user, ok, err)
	}

	if _, ok, _ := s.LookupTokenUser("unknown"); ok {
		t.Error("Unknown token resolved to a user")
	}

	// Replacing a token invalidates the old one
	if err := s.SetUserToken("alice", "tok-2"); err != nil {
		t.Fatalf("Failed to replace token: %v", err)
	}
	if _, ok, _ := s.LookupTokenUser("tok-1"); ok {
		t.Error("Old token still resolves after replacement")
	}
	if user, ok, _ := s.LookupTokenUser("tok-2"); !ok || user != "alice" {
		t.Error("New token does not resolve")
	}

	users, err := s.ListUsers()
	if err != nil || len(users) != 1 || users[0] != "alice" {
		t.Errorf("ListUsers = %v, %v", users, err)
	}

	deleted, err := s.DeleteUserToken("alice")
	if err != nil || !deleted {
		t.Fatalf("DeleteUserToken = %v, %v", deleted, err)
	}
	if deleted, _ := s.DeleteUserToken("alice"); deleted {
		t.Error("Second delete reported a row")
	}
}
