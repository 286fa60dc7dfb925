// Model call trace store backed by SQLite.
//
// Every model call made by the agentic loop records one ModelTrace row
// for inspection and debugging. Thread-safe via sql.DB's built-in
// connection pooling.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ModelTrace captures one model call.
type ModelTrace struct {
	ID             string
	Timestamp      time.Time
	ConversationID string
	Model          string
	ThinkingLevel  string
	UserText       string
	AssistantText  string
	Actions        []map[string]any
	IsFinal        bool
	LatencyMS      float64
	Errors         []string
}

// NewModelTrace creates a trace with a fresh id and timestamp.
func NewModelTrace(conversationID, model, thinkingLevel string) ModelTrace {
	return ModelTrace{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		Model:          model,
		ThinkingLevel:  thinkingLevel,
	}
}

// TraceStore persists model call traces.
type TraceStore struct {
	db *sql.DB
}

// OpenTraceStore opens or creates the trace database at the given path.
// Creates parent directories if they don't exist.
func OpenTraceStore(path string) (*TraceStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &TraceStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewTraceStoreInMemory creates an in-memory store (useful for testing).
func NewTraceStoreInMemory() (*TraceStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &TraceStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *TraceStore) Close() error {
	return s.db.Close()
}

func (s *TraceStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS traces (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			conversation_id TEXT NOT NULL,
			model TEXT NOT NULL,
			thinking_level TEXT NOT NULL,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			actions TEXT NOT NULL,
			is_final INTEGER NOT NULL,
			latency_ms REAL NOT NULL,
			errors TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_traces_conversation
		ON traces(conversation_id, ts DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Add persists a trace.
func (s *TraceStore) Add(ctx context.Context, trace ModelTrace) error {
	actionsJSON, err := json.Marshal(trace.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	errorsJSON, err := json.Marshal(trace.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces
			(id, ts, conversation_id, model, thinking_level, user_text,
			 assistant_text, actions, is_final, latency_ms, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.Timestamp.UnixMilli(), trace.ConversationID,
		trace.Model, trace.ThinkingLevel, trace.UserText,
		trace.AssistantText, string(actionsJSON), boolToInt(trace.IsFinal),
		trace.LatencyMS, string(errorsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

// List returns the most recent traces, newest first, up to limit.
func (s *TraceStore) List(ctx context.Context, limit int) ([]ModelTrace, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, conversation_id, model, thinking_level, user_text,
		       assistant_text, actions, is_final, latency_ms, errors
		FROM traces ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var traces []ModelTrace
	for rows.Next() {
		trace, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, rows.Err()
}

// Get fetches a trace by id. Returns sql.ErrNoRows if not found.
func (s *TraceStore) Get(ctx context.Context, id string) (ModelTrace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, conversation_id, model, thinking_level, user_text,
		       assistant_text, actions, is_final, latency_ms, errors
		FROM traces WHERE id = ?`, id)
	return scanTrace(row)
}

// Clear removes all traces.
func (s *TraceStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM traces"); err != nil {
		return fmt.Errorf("failed to clear traces: %w", err)
	}
	return nil
}

// Count returns the number of stored traces.
func (s *TraceStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count traces: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (ModelTrace, error) {
	var trace ModelTrace
	var ts int64
	var actionsJSON, errorsJSON string
	var isFinal int

	err := row.Scan(&trace.ID, &ts, &trace.ConversationID, &trace.Model,
		&trace.ThinkingLevel, &trace.UserText, &trace.AssistantText,
		&actionsJSON, &isFinal, &trace.LatencyMS, &errorsJSON)
	if err != nil {
		return ModelTrace{}, err
	}

	trace.Timestamp = time.UnixMilli(ts).UTC()
	trace.IsFinal = isFinal != 0
	if err := json.Unmarshal([]byte(actionsJSON), &trace.Actions); err != nil {
		return ModelTrace{}, fmt.Errorf("failed to decode actions: %w", err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &trace.Errors); err != nil {
		return ModelTrace{}, fmt.Errorf("failed to decode errors: %w", err)
	}
	return trace, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
