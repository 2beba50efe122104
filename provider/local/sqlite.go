package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"assessbot/core"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements ThreadStore on a SQLite database so conversations
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and migrates the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			run_id TEXT,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateThread(ctx context.Context) (string, error) {
	id := newThreadID()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM threads WHERE thread_id = ?`, threadID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) touch(ctx context.Context, tx *sql.Tx, threadID string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE thread_id = ?`, time.Now().UTC(), threadID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg core.ThreadMessage) (core.ThreadMessage, error) {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return core.ThreadMessage{}, fmt.Errorf("failed to encode content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ThreadMessage{}, err
	}
	defer tx.Rollback()

	if err := s.touch(ctx, tx, msg.ThreadID); err != nil {
		return core.ThreadMessage{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, thread_id, role, run_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, nullString(msg.RunID), string(content), msg.CreatedAt)
	if err != nil {
		return core.ThreadMessage{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.ThreadMessage{}, err
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]core.ThreadMessage, error) {
	exists, err := s.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrThreadNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, thread_id, role, run_id, content, created_at FROM messages WHERE thread_id = ? ORDER BY seq`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]core.ThreadMessage, 0)
	for rows.Next() {
		var msg core.ThreadMessage
		var runID sql.NullString
		var content string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &runID, &content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if runID.Valid {
			msg.RunID = runID.String
		}
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content of %s: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run core.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.touch(ctx, tx, run.ThreadID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, thread_id, status, last_error, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET status = excluded.status, last_error = excluded.last_error, updated_at = excluded.updated_at`,
		run.ID, run.ThreadID, string(run.Status), nullString(run.LastError), time.Now().UTC())
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	var run core.Run
	var status string
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, thread_id, status, last_error FROM runs WHERE run_id = ? AND thread_id = ?`,
		runID, threadID).Scan(&run.ID, &run.ThreadID, &status, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	if lastError.Valid {
		run.LastError = lastError.String
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ThreadIDs returns the stored thread ids, oldest first.
func (s *SQLiteStore) ThreadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id FROM threads ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats reports thread and message counts.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	var threads, messages int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM threads), (SELECT COUNT(*) FROM messages)`).Scan(&threads, &messages)
	if err != nil {
		return nil, fmt.Errorf("failed to count threads: %w", err)
	}

	return map[string]interface{}{
		"totalThreads":  threads,
		"totalMessages": messages,
	}, nil
}
