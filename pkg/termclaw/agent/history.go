// Package agent – history.go persists a bounded conversation log between
// process invocations. One file per session class: running inside different
// terminal hosts (VS Code terminal, plain tty, ...) keeps separate logs.
package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// HistoryStore loads and saves the rolling conversation log. The log is read
// once at process start and written once at (non-interactive) exit; there is
// no cross-process locking, concurrent writers race last-writer-wins.
type HistoryStore interface {
	Load() ([]Turn, error)
	Save(turns []Turn) error
}

// sessionClassPattern strips characters unsafe in file names.
var sessionClassPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SessionClass derives the history partition from the hosting environment.
// TERMCLAW_SESSION wins; otherwise the terminal program (editor-embedded
// terminals set TERM_PROGRAM); otherwise a shared default.
func SessionClass() string {
	for _, env := range []string{"TERMCLAW_SESSION", "TERM_PROGRAM"} {
		if v := os.Getenv(env); v != "" {
			return sessionClassPattern.ReplaceAllString(strings.ToLower(v), "_")
		}
	}
	return "term"
}

// FileHistory stores turns as a JSON array in one file per session class.
type FileHistory struct {
	path     string
	maxTurns int
	logger   *slog.Logger
}

// NewFileHistory creates a file-backed history store for the given session
// class under dir.
func NewFileHistory(dir, class string, maxTurns int, logger *slog.Logger) *FileHistory {
	return &FileHistory{
		path:     filepath.Join(dir, class+".json"),
		maxTurns: maxTurns,
		logger:   logger.With("component", "history"),
	}
}

// Path returns the backing file path.
func (h *FileHistory) Path() string {
	return h.path
}

// Load reads the persisted turns. A missing file yields an empty log.
func (h *FileHistory) Load() ([]Turn, error) {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history %q: %w", h.path, err)
	}

	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		// A corrupt history file should not brick the agent; start fresh.
		h.logger.Warn("history file is corrupt, starting fresh", "path", h.path, "error", err)
		return nil, nil
	}
	return turns, nil
}

// Save overwrites the log with the most recent maxTurns turns, evicting the
// oldest first.
func (h *FileHistory) Save(turns []Turn) error {
	turns = capTurns(turns, h.maxTurns)

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0o600); err != nil {
		return fmt.Errorf("writing history %q: %w", h.path, err)
	}

	h.logger.Debug("history saved", "path", h.path, "turns", len(turns))
	return nil
}

// capTurns returns the most recent max turns (FIFO eviction).
func capTurns(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// OpenHistory constructs the configured history backend.
func OpenHistory(cfg *Config, logger *slog.Logger) (HistoryStore, error) {
	class := SessionClass()
	switch cfg.History.Backend {
	case "", "file":
		return NewFileHistory(cfg.History.Dir, class, cfg.History.MaxTurns, logger), nil
	case "sqlite":
		return NewSQLiteHistory(filepath.Join(cfg.History.Dir, "history.db"), class, cfg.History.MaxTurns, logger)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
