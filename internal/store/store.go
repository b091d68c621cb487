// Package store persists the monitor's event journal and the control
// hub's user/token mapping in a local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		// Checkpoint the WAL so all data lands in the main database file
		s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main
// database file.
func (s *Store) Flush() error {
	if s.conn != nil {
		_, err := s.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	-- Session lifecycle and log classification events
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Remote commands received and their outcome
	CREATE TABLE IF NOT EXISTS command_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		source TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Control hub bearer tokens, one per user
	CREATE TABLE IF NOT EXISTS user_tokens (
		username TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_session_events_type ON session_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_command_events_timestamp ON command_events(timestamp);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// SessionEvent is one journal entry.
type SessionEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// execRetry runs a write statement, retrying briefly on a locked
// database. The monitor loop and the hub write concurrently; journaling
// is best effort and must not block either.
func (s *Store) execRetry(query string, args ...any) error {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := s.conn.Exec(query, args...)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("statement failed after %d retries: database locked", maxRetries)
}

// LogSessionEvent appends an entry to the session journal.
func (s *Store) LogSessionEvent(eventType, details string) error {
	return s.execRetry(
		`INSERT INTO session_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// CommandEvent records a remote command and what happened to it.
type CommandEvent struct {
	ID        int64
	Command   string
	Source    string
	Details   string
	Timestamp time.Time
}

// LogCommand records a received remote command.
func (s *Store) LogCommand(command, source, details string) error {
	return s.execRetry(
		`INSERT INTO command_events (command, source, details, timestamp)
		 VALUES (?, ?, ?, ?)`,
		command, source, details, time.Now(),
	)
}

// GetRecentSessionEvents retrieves the most recent journal entries.
func (s *Store) GetRecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM session_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentCommands retrieves the most recent command records.
func (s *Store) GetRecentCommands(limit int) ([]CommandEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, command, source, details, timestamp
		 FROM command_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CommandEvent
	for rows.Next() {
		var e CommandEvent
		if err := rows.Scan(&e.ID, &e.Command, &e.Source, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SetUserToken stores or replaces the bearer token for a user.
func (s *Store) SetUserToken(username, token string) error {
	_, err := s.conn.Exec(
		`INSERT INTO user_tokens (username, token, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET token = excluded.token, created_at = excluded.created_at`,
		username, token, time.Now(),
	)
	return err
}

// LookupTokenUser resolves a bearer token to its user. ok=false means
// the token is unknown.
func (s *Store) LookupTokenUser(token string) (username string, ok bool, err error) {
	err = s.conn.QueryRow(
		`SELECT username FROM user_tokens WHERE token = ?`, token,
	).Scan(&username)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return username, true, nil
}

// DeleteUserToken removes a user's token. Reports whether a row was
// actually deleted.
func (s *Store) DeleteUserToken(username string) (bool, error) {
	res, err := s.conn.Exec(`DELETE FROM user_tokens WHERE username = ?`, username)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListUsers returns all usernames with a registered token.
func (s *Store) ListUsers() ([]string, error) {
	rows, err := s.conn.Query(`SELECT username FROM user_tokens ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
