package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event type constants
const (
	EventProcessStarted      = "process.started"
	EventMessageReceived     = "message.received"
	EventCompletionSucceeded = "completion.succeeded"
	EventCompletionFailed    = "completion.failed"
	EventReplySent           = "reply.sent"
	EventMemoryCleared       = "memory.cleared"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events table.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			user_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id, id);
	`)
	return err
}

// Event is a row of the events table.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	ParentID  *int64         `json:"parent_id,omitempty"`
	UserID    *int64         `json:"user_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger appends events to the events table. A nil *Ledger discards events.
type Ledger struct {
	DB *sql.DB
}

// Log records an event and returns its id. userID of 0 stores NULL.
func (l *Ledger) Log(parentID *int64, userID int64, eventType string, payload map[string]any) (int64, error) {
	if l == nil || l.DB == nil {
		return 0, nil
	}
	var uid any
	if userID != 0 {
		uid = userID
	}
	return logEvent(l.DB, parentID, uid, eventType, payload)
}

// Recent returns up to limit events, newest first. userID of 0 matches every user.
func (l *Ledger) Recent(userID int64, limit int) ([]Event, error) {
	if l == nil || l.DB == nil {
		return nil, nil
	}
	query := `SELECT id, timestamp, parent_id, user_id, event_type, payload FROM events`
	args := []any{}
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			parent  sql.NullInt64
			user    sql.NullInt64
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &parent, &user, &e.EventType, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parent.Valid {
			e.ParentID = &parent.Int64
		}
		if user.Valid {
			e.UserID = &user.Int64
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// logEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func logEvent(db *sql.DB, parentID *int64, userID any, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, user_id, event_type, payload) VALUES (?, ?, ?, ?)`,
		parentID, userID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}
