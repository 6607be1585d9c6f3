// Package store persists taskmail's synchronization state.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// Store provides database operations for taskmail.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SyncState is the persisted engine state.
type SyncState struct {
	Cursor    string
	Status    string
	LastError string
	UpdatedAt time.Time
}

// LoadCursor returns the persisted cursor, or "" when the engine has never
// run.
func (s *Store) LoadCursor() (string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM sync_state WHERE id = 1`).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor persists the cursor.
func (s *Store) SaveCursor(cursor string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (id, cursor, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET cursor = excluded.cursor, updated_at = CURRENT_TIMESTAMP
	`, cursor)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// SetSyncStatus records the engine's last observed state for operators.
func (s *Store) SetSyncStatus(status, lastError string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (id, status, last_error, updated_at)
		VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
	`, status, lastError)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

// SyncStatus returns the persisted engine state. A zero-valued SyncState
// means the engine has never run.
func (s *Store) SyncStatus() (SyncState, error) {
	var st SyncState
	err := s.db.QueryRow(`
		SELECT cursor, status, last_error, updated_at FROM sync_state WHERE id = 1
	`).Scan(&st.Cursor, &st.Status, &st.LastError, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return SyncState{}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("sync status: %w", err)
	}
	return st, nil
}

// DeadLetter is a message whose processing failed.
type DeadLetter struct {
	MessageID string
	ThreadID  string
	Reason    string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordFailure upserts a dead letter, bumping the attempt count when the
// message already failed before.
func (s *Store) RecordFailure(messageID, threadID, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO dead_letters (message_id, thread_id, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			reason = excluded.reason,
			attempts = attempts + 1,
			updated_at = CURRENT_TIMESTAMP
	`, messageID, threadID, reason)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ListDeadLetters returns dead letters still eligible for replay, oldest
// first.
func (s *Store) ListDeadLetters(maxAttempts, limit int) ([]DeadLetter, error) {
	rows, err := s.db.Query(`
		SELECT message_id, thread_id, reason, attempts, created_at, updated_at
		FROM dead_letters
		WHERE attempts < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.MessageID, &d.ThreadID, &d.Reason, &d.Attempts, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// ResolveDeadLetter removes a dead letter after a successful replay.
func (s *Store) ResolveDeadLetter(messageID string) error {
	_, err := s.db.Exec(`DELETE FROM dead_letters WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	return nil
}

// CountDeadLetters returns the total number of dead letters, replayable or
// not.
func (s *Store) CountDeadLetters() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}
