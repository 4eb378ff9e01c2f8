package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// SaveReviewDecision appends a reviewer decision for a candidate
func (s *Store) SaveReviewDecision(ctx context.Context, d *domain.ReviewDecision) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO review_decisions (
			id, candidate_id, reviewer, decision, agreement, override_reason, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.CandidateID, d.Reviewer, d.Decision, d.Agreement, d.OverrideReason, d.Note, d.CreatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"candidate_id": d.CandidateID,
			"reviewer":     d.Reviewer,
			"error":        err,
		}).Error("Failed to save review decision")
		return fmt.Errorf("saving review decision: %w", err)
	}
	return nil
}

// GetReviewDecision returns the most recent decision for a candidate
func (s *Store) GetReviewDecision(ctx context.Context, candidateID uuid.UUID) (*domain.ReviewDecision, error) {
	var d domain.ReviewDecision
	err := s.db.QueryRow(ctx, `
		SELECT id, candidate_id, reviewer, decision, agreement, override_reason, note, created_at
		FROM review_decisions
		WHERE candidate_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		candidateID,
	).Scan(&d.ID, &d.CandidateID, &d.Reviewer, &d.Decision, &d.Agreement, &d.OverrideReason, &d.Note, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("review decision not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting review decision: %w", err)
	}
	return &d, nil
}

// Queue lists candidates whose workflows sit in the given states, ordered by
// window start so the oldest exposure comes up first
func (s *Store) Queue(ctx context.Context, states []domain.ReviewState, limit int) ([]*domain.Candidate, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+qualifiedCandidateColumns+`
		FROM candidates c
		JOIN workflows w ON w.candidate_id = c.id
		WHERE w.state = ANY($1)
		ORDER BY c.window_start
		LIMIT $2`,
		names, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing review queue: %w", err)
	}
	defer rows.Close()

	var queue []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		queue = append(queue, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue rows: %w", err)
	}
	return queue, nil
}

const qualifiedCandidateColumns = `c.id, c.hai_type, c.patient_id, c.encounter_id, c.triggers,
	c.window_start, c.window_end, c.context, c.partial_data, c.missing_fields, c.retired, c.created_at`
