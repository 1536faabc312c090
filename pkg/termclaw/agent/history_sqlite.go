// Package agent – history_sqlite.go implements history persistence backed by
// a SQLite database. Drop-in replacement for the JSON-file store; same cap
// and eviction semantics, keyed by session class.
package agent

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteHistory stores turns in a history_turns table, one row per turn.
type SQLiteHistory struct {
	db       *sql.DB
	class    string
	maxTurns int
	logger   *slog.Logger
}

// NewSQLiteHistory opens (creating if needed) the history database.
func NewSQLiteHistory(path, class string, maxTurns int, logger *slog.Logger) (*SQLiteHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db %q: %w", path, err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS history_turns (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_class TEXT NOT NULL,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			tool_calls    TEXT,
			tool_call_id  TEXT,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_class ON history_turns(session_class, id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &SQLiteHistory{
		db:       db,
		class:    class,
		maxTurns: maxTurns,
		logger:   logger.With("component", "history_sqlite"),
	}, nil
}

// Close releases the database handle.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// Load reads the persisted turns for this session class in insertion order.
func (h *SQLiteHistory) Load() ([]Turn, error) {
	rows, err := h.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, created_at
		FROM history_turns
		WHERE session_class = ?
		ORDER BY id ASC`, h.class)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			toolCalls sql.NullString
			callID    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.Role, &t.Content, &toolCalls, &callID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history turn: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				h.logger.Warn("dropping unreadable tool calls", "error", err)
			}
		}
		t.ToolCallID = callID.String
		t.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history turns: %w", err)
	}
	return turns, nil
}

// Save replaces this session class's log with the most recent maxTurns turns.
func (h *SQLiteHistory) Save(turns []Turn) error {
	turns = capTurns(turns, h.maxTurns)

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM history_turns WHERE session_class = ?`, h.class); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO history_turns (session_class, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range turns {
		var toolCalls string
		if len(t.ToolCalls) > 0 {
			data, err := json.Marshal(t.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshaling tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(h.class, string(t.Role), t.Content, toolCalls, t.ToolCallID, ts.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting history turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}

	h.logger.Debug("history saved", "class", h.class, "turns", len(turns))
	return nil
}
