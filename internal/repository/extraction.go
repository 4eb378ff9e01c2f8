package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// SaveExtraction inserts one extraction result. A second result for the same
// candidate and stage is rejected with ErrDuplicateStage.
func (s *Store) SaveExtraction(ctx context.Context, r *domain.ExtractionResult) error {
	facts, err := marshalJSON(r.Facts, "fact set")
	if err != nil {
		return err
	}
	triggers, err := marshalJSON(r.EscalationTriggers, "escalation triggers")
	if err != nil {
		return err
	}

	result, err := s.db.Exec(ctx, `
		INSERT INTO extraction_results (
			id, candidate_id, stage, facts, confidence, model,
			prompt_tokens, completion_tokens, latency_ms, escalation_triggers, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (candidate_id, stage) DO NOTHING`,
		r.ID, r.CandidateID, r.Stage, facts, r.Confidence, r.Model,
		r.PromptTokens, r.CompletionTokens, r.Latency.Milliseconds(), triggers, r.CreatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"candidate_id": r.CandidateID,
			"stage":        r.Stage,
			"error":        err,
		}).Error("Failed to save extraction result")
		return fmt.Errorf("saving extraction result: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDuplicateStage
	}
	return nil
}

// GetExtractions returns all extraction results for a candidate, triage
// before full
func (s *Store) GetExtractions(ctx context.Context, candidateID uuid.UUID) ([]*domain.ExtractionResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, candidate_id, stage, facts, confidence, model,
		       prompt_tokens, completion_tokens, latency_ms, escalation_triggers, created_at
		FROM extraction_results
		WHERE candidate_id = $1
		ORDER BY created_at`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing extraction results: %w", err)
	}
	defer rows.Close()

	var results []*domain.ExtractionResult
	for rows.Next() {
		var r domain.ExtractionResult
		var facts, triggers []byte
		var latencyMS int64

		err := rows.Scan(
			&r.ID, &r.CandidateID, &r.Stage, &facts, &r.Confidence, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &latencyMS, &triggers, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning extraction row: %w", err)
		}
		if err := unmarshalJSON(facts, &r.Facts, "fact set"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(triggers, &r.EscalationTriggers, "escalation triggers"); err != nil {
			return nil, err
		}
		r.Latency = time.Duration(latencyMS) * time.Millisecond

		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extraction rows: %w", err)
	}
	return results, nil
}
