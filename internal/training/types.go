// Package training collects resolved candidates into an append-only dataset
// for model evaluation and fine-tuning. Collection runs off the review
// workflow's transition hook and never blocks or fails a review.
package training

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/hai-surveillance-server/internal/domain"
)

// Stats tracks escalation behavior incrementally as examples are collected.
// Counters only ever grow; the full dataset is never rescanned.
type Stats struct {
	Total           int64            `json:"total"`
	Escalated       int64            `json:"escalated"`
	TriageAgreement int64            `json:"triage_agreement"`
	Triggers        map[string]int64 `json:"triggers"`
	TotalByType     map[string]int64 `json:"total_by_type"`
	EscalatedByType map[string]int64 `json:"escalated_by_type"`
}

// Store defines the training dataset storage operations
type Store interface {
	// Save appends one training example. Saving a candidate that is already
	// recorded is a no-op and returns false.
	Save(ctx context.Context, example *domain.TrainingExample) (bool, error)

	// Exists reports whether an example for the candidate is recorded.
	Exists(ctx context.Context, candidateID uuid.UUID) (bool, error)

	// List returns examples with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.TrainingExample, error)

	// Count returns the number of recorded examples.
	Count(ctx context.Context) (int64, error)

	// AddStats folds delta into the stored counters.
	AddStats(ctx context.Context, delta Stats) error

	// GetStats returns the accumulated counters.
	GetStats(ctx context.Context) (*Stats, error)

	// ExportJSON writes the full dataset to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close releases the store's resources.
	Close() error
}

// Export is the JSON export envelope
type Export struct {
	Version    string                    `json:"version"`
	ExportedAt string                    `json:"exported_at"`
	Count      int                       `json:"count"`
	Stats      *Stats                    `json:"stats"`
	Examples   []*domain.TrainingExample `json:"examples"`
}
