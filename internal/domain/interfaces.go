package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DataSource feeds the detector with structured events and the extractor
// with clinical notes for a patient encounter
type DataSource interface {
	Events(ctx context.Context, patientID, encounterID string, start, end time.Time) ([]StructuredEvent, error)
	Notes(ctx context.Context, patientID, encounterID string, start, end time.Time) ([]NoteRecord, error)
}

// CandidateStore persists detection candidates and their review workflows
type CandidateStore interface {
	SaveCandidate(ctx context.Context, c *Candidate) error
	GetCandidate(ctx context.Context, id uuid.UUID) (*Candidate, error)
	// ActiveCandidates returns non-retired candidates for the patient and
	// HAI type, used for dedup and window merging.
	ActiveCandidates(ctx context.Context, patientID string, haiType HAIType) ([]*Candidate, error)
	AppendTrigger(ctx context.Context, id uuid.UUID, trigger TriggerEvidence, windowEnd time.Time) error
	RetireCandidate(ctx context.Context, id uuid.UUID) error

	GetWorkflow(ctx context.Context, candidateID uuid.UUID) (*Workflow, error)
	// TransitionWorkflow applies a compare-and-swap update keyed on
	// Workflow.Version and records the audit entry atomically. It returns
	// ErrConflict when the stored version differs.
	TransitionWorkflow(ctx context.Context, w *Workflow, entry *AuditEntry) error
	AuditTrail(ctx context.Context, candidateID uuid.UUID) ([]*AuditEntry, error)
}

// ExtractionStore persists extraction results, one row per stage
type ExtractionStore interface {
	SaveExtraction(ctx context.Context, r *ExtractionResult) error
	GetExtractions(ctx context.Context, candidateID uuid.UUID) ([]*ExtractionResult, error)
}

// ClassificationStore persists classifications; superseded rows are kept
type ClassificationStore interface {
	SaveClassification(ctx context.Context, c *Classification) error
	// LatestClassification returns the newest, non-superseded classification.
	LatestClassification(ctx context.Context, candidateID uuid.UUID) (*Classification, error)
	Classifications(ctx context.Context, candidateID uuid.UUID) ([]*Classification, error)
}

// ReviewStore persists reviewer decisions
type ReviewStore interface {
	SaveReviewDecision(ctx context.Context, d *ReviewDecision) error
	GetReviewDecision(ctx context.Context, candidateID uuid.UUID) (*ReviewDecision, error)
	// Queue lists candidates in the given states ordered by window start.
	Queue(ctx context.Context, states []ReviewState, limit int) ([]*Candidate, error)
}

// Store aggregates all persistence interfaces
type Store interface {
	CandidateStore
	ExtractionStore
	ClassificationStore
	ReviewStore
}
