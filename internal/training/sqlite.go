package training

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hai-surveillance-server/internal/domain"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates the database file and schema if they don't exist
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS training_examples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id TEXT NOT NULL UNIQUE,
		hai_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS escalation_stats (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_training_hai_type ON training_examples(hai_type);
	CREATE INDEX IF NOT EXISTS idx_training_created_at ON training_examples(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Save appends one example; a duplicate candidate is ignored
func (s *SQLiteStore) Save(ctx context.Context, example *domain.TrainingExample) (bool, error) {
	payload, err := json.Marshal(example)
	if err != nil {
		return false, fmt.Errorf("failed to marshal training example: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO training_examples (candidate_id, hai_type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, example.CandidateID.String(), string(example.Type), string(payload), example.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert training example: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		example.ID = id
	}
	return true, nil
}

// Exists reports whether the candidate already has an example
func (s *SQLiteStore) Exists(ctx context.Context, candidateID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM training_examples WHERE candidate_id = ?",
		candidateID.String(),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns examples newest first
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.TrainingExample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM training_examples
		ORDER BY id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrainingExample
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var ex domain.TrainingExample
		if err := json.Unmarshal([]byte(payload), &ex); err != nil {
			return nil, fmt.Errorf("failed to unmarshal training example %d: %w", id, err)
		}
		ex.ID = id
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// Count returns the total number of examples
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_examples").Scan(&n)
	return n, err
}

// AddStats folds delta into the stored counters in one transaction
func (s *SQLiteStore) AddStats(ctx context.Context, delta Stats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bump := func(key string, value int64) error {
		if value == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO escalation_stats (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = value + excluded.value
		`, key, value)
		return err
	}

	if err := bump("total", delta.Total); err != nil {
		return err
	}
	if err := bump("escalated", delta.Escalated); err != nil {
		return err
	}
	if err := bump("triage_agreement", delta.TriageAgreement); err != nil {
		return err
	}
	for trigger, n := range delta.Triggers {
		if err := bump("trigger:"+trigger, n); err != nil {
			return err
		}
	}
	for haiType, n := range delta.TotalByType {
		if err := bump("type_total:"+haiType, n); err != nil {
			return err
		}
	}
	for haiType, n := range delta.EscalatedByType {
		if err := bump("type_escalated:"+haiType, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetStats returns the accumulated counters
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM escalation_stats")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{
		Triggers:        make(map[string]int64),
		TotalByType:     make(map[string]int64),
		EscalatedByType: make(map[string]int64),
	}
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch {
		case key == "total":
			stats.Total = value
		case key == "escalated":
			stats.Escalated = value
		case key == "triage_agreement":
			stats.TriageAgreement = value
		case strings.HasPrefix(key, "trigger:"):
			stats.Triggers[strings.TrimPrefix(key, "trigger:")] = value
		case strings.HasPrefix(key, "type_total:"):
			stats.TotalByType[strings.TrimPrefix(key, "type_total:")] = value
		case strings.HasPrefix(key, "type_escalated:"):
			stats.EscalatedByType[strings.TrimPrefix(key, "type_escalated:")] = value
		}
	}
	return stats, rows.Err()
}

// ExportJSON writes the full dataset to writer
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	examples, err := s.List(ctx, int(count), 0)
	if err != nil {
		return err
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		return err
	}

	export := Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Count:      len(examples),
		Stats:      stats,
		Examples:   examples,
	}

	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
