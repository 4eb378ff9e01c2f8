package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

const candidateColumns = `id, hai_type, patient_id, encounter_id, triggers, window_start,
	window_end, context, partial_data, missing_fields, retired, created_at`

// SaveCandidate inserts a candidate and opens its review workflow in a
// single transaction
func (s *Store) SaveCandidate(ctx context.Context, c *domain.Candidate) error {
	triggers, err := marshalJSON(c.Triggers, "triggers")
	if err != nil {
		return err
	}
	clinical, err := marshalJSON(c.Context, "clinical context")
	if err != nil {
		return err
	}
	missing, err := marshalJSON(c.MissingFields, "missing fields")
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO candidates (
			id, hai_type, patient_id, encounter_id, triggers, window_start,
			window_end, context, partial_data, missing_fields, retired, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Type, c.PatientID, c.EncounterID, triggers, c.WindowStart,
		c.WindowEnd, clinical, c.PartialData, missing, c.Retired, c.CreatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"hai_type":     c.Type,
			"error":        err,
		}).Error("Failed to create candidate")
		return fmt.Errorf("creating candidate: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (candidate_id, state, version, extraction_state, updated_at)
		VALUES ($1, $2, 1, $3, $4)`,
		c.ID, domain.StateCreated, domain.ExtractionNotStarted, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("opening workflow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing candidate: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"candidate_id": c.ID,
		"hai_type":     c.Type,
		"patient_id":   c.PatientID,
	}).Info("Candidate created")

	return nil
}

// GetCandidate retrieves a candidate by its ID
func (s *Store) GetCandidate(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id)

	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("candidate not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting candidate: %w", err)
	}
	return c, nil
}

// ActiveCandidates returns non-retired candidates for a patient and HAI type
func (s *Store) ActiveCandidates(ctx context.Context, patientID string, haiType domain.HAIType) ([]*domain.Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+candidateColumns+`
		FROM candidates
		WHERE patient_id = $1 AND hai_type = $2 AND retired = FALSE
		ORDER BY created_at`,
		patientID, haiType,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidate rows: %w", err)
	}
	return candidates, nil
}

// AppendTrigger records additional trigger evidence on an active candidate
// and extends its window when the new evidence reaches further forward
func (s *Store) AppendTrigger(ctx context.Context, id uuid.UUID, trigger domain.TriggerEvidence, windowEnd time.Time) error {
	encoded, err := marshalJSON(trigger, "trigger evidence")
	if err != nil {
		return err
	}

	result, err := s.db.Exec(ctx, `
		UPDATE candidates
		SET triggers = triggers || $2::jsonb,
		    window_end = GREATEST(window_end, $3)
		WHERE id = $1 AND retired = FALSE`,
		id, encoded, windowEnd,
	)
	if err != nil {
		return fmt.Errorf("appending trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		var retired bool
		err := s.db.QueryRow(ctx, `SELECT retired FROM candidates WHERE id = $1`, id).Scan(&retired)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("candidate not found: %w", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking candidate: %w", err)
		}
		return domain.ErrCandidateRetired
	}
	return nil
}

// RetireCandidate marks a candidate retired so its window suppresses
// re-triggers
func (s *Store) RetireCandidate(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE candidates SET retired = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("retiring candidate: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("candidate not found: %w", domain.ErrNotFound)
	}
	return nil
}

// GetWorkflow retrieves the review workflow head for a candidate
func (s *Store) GetWorkflow(ctx context.Context, candidateID uuid.UUID) (*domain.Workflow, error) {
	var w domain.Workflow
	err := s.db.QueryRow(ctx, `
		SELECT candidate_id, state, version, extraction_state, undetermined, undetermined_reason, updated_at
		FROM workflows WHERE candidate_id = $1`,
		candidateID,
	).Scan(&w.CandidateID, &w.State, &w.Version, &w.Extraction, &w.Undetermined, &w.UndeterminedReason, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	return &w, nil
}

// TransitionWorkflow applies a compare-and-swap state transition keyed on the
// version the caller read, recording the audit entry in the same transaction.
// Stale writers get ErrConflict.
func (s *Store) TransitionWorkflow(ctx context.Context, w *domain.Workflow, entry *domain.AuditEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	result, err := tx.Exec(ctx, `
		UPDATE workflows
		SET state = $3, version = version + 1, extraction_state = $4,
		    undetermined = $5, undetermined_reason = $6, updated_at = $7
		WHERE candidate_id = $1 AND version = $2`,
		w.CandidateID, w.Version, w.State, w.Extraction, w.Undetermined, w.UndeterminedReason, now,
	)
	if err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflows WHERE candidate_id = $1)`,
			w.CandidateID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking workflow: %w", err)
		}
		if !exists {
			return fmt.Errorf("workflow not found: %w", domain.ErrNotFound)
		}
		return domain.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (id, candidate_id, actor, from_state, to_state, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.CandidateID, entry.Actor, entry.FromState, entry.ToState, entry.Reason, entry.At,
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transition: %w", err)
	}

	w.Version++
	w.UpdatedAt = now
	return nil
}

// AuditTrail returns all workflow transitions for a candidate in order
func (s *Store) AuditTrail(ctx context.Context, candidateID uuid.UUID) ([]*domain.AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, candidate_id, actor, from_state, to_state, reason, at
		FROM audit_entries
		WHERE candidate_id = $1
		ORDER BY at`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var trail []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.CandidateID, &e.Actor, &e.FromState, &e.ToState, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		trail = append(trail, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return trail, nil
}

func scanCandidate(row pgx.Row) (*domain.Candidate, error) {
	var c domain.Candidate
	var triggers, clinical, missing []byte

	err := row.Scan(
		&c.ID, &c.Type, &c.PatientID, &c.EncounterID, &triggers, &c.WindowStart,
		&c.WindowEnd, &clinical, &c.PartialData, &missing, &c.Retired, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(triggers, &c.Triggers, "triggers"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(clinical, &c.Context, "clinical context"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(missing, &c.MissingFields, "missing fields"); err != nil {
		return nil, err
	}
	return &c, nil
}
