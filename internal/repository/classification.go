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

// SaveClassification inserts a classification. Superseded rows stay in
// place; the chain is reconstructed through the supersedes column.
func (s *Store) SaveClassification(ctx context.Context, c *domain.Classification) error {
	criteria, err := marshalJSON(c.Criteria, "criteria trace")
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO classifications (
			id, candidate_id, decision, criteria, confidence, source,
			rule_set_version, supersedes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.CandidateID, c.Decision, criteria, c.Confidence, c.Source,
		c.RuleSetVersion, c.Supersedes, c.CreatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"candidate_id": c.CandidateID,
			"decision":     c.Decision,
			"error":        err,
		}).Error("Failed to save classification")
		return fmt.Errorf("saving classification: %w", err)
	}
	return nil
}

// LatestClassification returns the newest classification that no other row
// supersedes
func (s *Store) LatestClassification(ctx context.Context, candidateID uuid.UUID) (*domain.Classification, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, candidate_id, decision, criteria, confidence, source,
		       rule_set_version, supersedes, created_at
		FROM classifications c
		WHERE candidate_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM classifications n
			WHERE n.candidate_id = $1 AND n.supersedes = c.id
		  )
		ORDER BY created_at DESC
		LIMIT 1`,
		candidateID,
	)

	c, err := scanClassification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("classification not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest classification: %w", err)
	}
	return c, nil
}

// Classifications returns the full classification history for a candidate in
// creation order
func (s *Store) Classifications(ctx context.Context, candidateID uuid.UUID) ([]*domain.Classification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, candidate_id, decision, criteria, confidence, source,
		       rule_set_version, supersedes, created_at
		FROM classifications
		WHERE candidate_id = $1
		ORDER BY created_at`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing classifications: %w", err)
	}
	defer rows.Close()

	var history []*domain.Classification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning classification row: %w", err)
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating classification rows: %w", err)
	}
	return history, nil
}

func scanClassification(row pgx.Row) (*domain.Classification, error) {
	var c domain.Classification
	var criteria []byte

	err := row.Scan(
		&c.ID, &c.CandidateID, &c.Decision, &criteria, &c.Confidence, &c.Source,
		&c.RuleSetVersion, &c.Supersedes, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(criteria, &c.Criteria, "criteria trace"); err != nil {
		return nil, err
	}
	return &c, nil
}
