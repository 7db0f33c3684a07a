// Package trace persists a record of every model call the pipeline
// makes, so failed formalization runs can be audited after the fact.
// Backed by SQLite for durability; thread-safe behind a mutex.
package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one captured LLM interaction.
type Record struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	Service      string    `json:"service"`
	Entity       string    `json:"entity"`
	Attempt      int       `json:"attempt"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response"`
	Model        string    `json:"model,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store writes model-call records to a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens the trace database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	dbPath := filepath.Join(dir, "model_calls.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_calls (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		service TEXT,
		entity TEXT,
		attempt INTEGER,
		system_prompt TEXT NOT NULL,
		user_prompt TEXT NOT NULL,
		response TEXT,
		model TEXT,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_calls_run ON model_calls(run_id);
	CREATE INDEX IF NOT EXISTS idx_calls_stage ON model_calls(stage);
	CREATE INDEX IF NOT EXISTS idx_calls_entity ON model_calls(entity);
	CREATE INDEX IF NOT EXISTS idx_calls_success ON model_calls(success);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure trace schema: %w", err)
	}
	return nil
}

// Append stores one record. A zero ID or CreatedAt is filled in.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO model_calls
		(id, run_id, stage, service, entity, attempt, system_prompt,
		 user_prompt, response, model, success, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Stage, rec.Service, rec.Entity, rec.Attempt,
		rec.SystemPrompt, rec.UserPrompt, rec.Response, rec.Model,
		rec.Success, rec.ErrorMessage, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append trace record: %w", err)
	}
	return nil
}

// ByRun returns all records for one pipeline run, oldest first.
func (s *Store) ByRun(runID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, run_id, stage, service, entity, attempt, system_prompt,
		       user_prompt, response, model, success, error_message, duration_ms, created_at
		FROM model_calls WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Stage, &rec.Service,
			&rec.Entity, &rec.Attempt, &rec.SystemPrompt, &rec.UserPrompt,
			&rec.Response, &rec.Model, &rec.Success, &rec.ErrorMessage,
			&rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ExportJSON writes all records of a run as a JSON document, for
// inspection without SQLite tooling.
func (s *Store) ExportJSON(runID, path string) error {
	records, err := s.ByRun(runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trace export: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
