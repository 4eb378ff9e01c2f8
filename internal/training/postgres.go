package training

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hai-surveillance-server/internal/domain"
)

// PostgresStore implements Store using PostgreSQL, for deployments where the
// dataset is shared across instances
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects and ensures the schema exists
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, used by tests
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS training_examples (
		id BIGSERIAL PRIMARY KEY,
		candidate_id UUID NOT NULL UNIQUE,
		hai_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS escalation_stats (
		key TEXT PRIMARY KEY,
		value BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_training_hai_type ON training_examples(hai_type);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save appends one example; a duplicate candidate is ignored
func (s *PostgresStore) Save(ctx context.Context, example *domain.TrainingExample) (bool, error) {
	payload, err := json.Marshal(example)
	if err != nil {
		return false, fmt.Errorf("failed to marshal training example: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO training_examples (candidate_id, hai_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (candidate_id) DO NOTHING
		RETURNING id
	`, example.CandidateID, string(example.Type), payload, example.CreatedAt).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert training example: %w", err)
	}
	example.ID = id
	return true, nil
}

// Exists reports whether the candidate already has an example
func (s *PostgresStore) Exists(ctx context.Context, candidateID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM training_examples WHERE candidate_id = $1)",
		candidateID,
	).Scan(&exists)
	return exists, err
}

// List returns examples newest first
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.TrainingExample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM training_examples
		ORDER BY id DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrainingExample
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var ex domain.TrainingExample
		if err := json.Unmarshal(payload, &ex); err != nil {
			return nil, fmt.Errorf("failed to unmarshal training example %d: %w", id, err)
		}
		ex.ID = id
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// Count returns the total number of examples
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_examples").Scan(&n)
	return n, err
}

// AddStats folds delta into the stored counters in one transaction
func (s *PostgresStore) AddStats(ctx context.Context, delta Stats) error {
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
			INSERT INTO escalation_stats (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = escalation_stats.value + EXCLUDED.value
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
func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
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
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
