package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared across stores and services
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("workflow version conflict")
	ErrDuplicateStage      = errors.New("extraction stage already recorded")
	ErrInvalidTransition   = errors.New("invalid workflow transition")
	ErrEmptyOverrideReason = errors.New("override requires a reason")
	ErrCandidateRetired    = errors.New("candidate is retired")
)

// Extraction failure reasons
const (
	ReasonTimeout            = "timeout"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonMalformedOutput    = "malformed_output"
	ReasonCancelled          = "cancelled"
)

// ExtractionError records a failed extraction attempt. Failures never abort
// the pipeline; the candidate is parked for manual review instead.
type ExtractionError struct {
	CandidateID uuid.UUID
	Stage       ExtractionStage
	Reason      string
	Err         error
}

// Error implements the error interface
func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction %s failed for candidate %s (%s): %v", e.Stage, e.CandidateID, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction %s failed for candidate %s (%s)", e.Stage, e.CandidateID, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError creates an ExtractionError wrapping cause
func NewExtractionError(candidateID uuid.UUID, stage ExtractionStage, reason string, cause error) *ExtractionError {
	return &ExtractionError{
		CandidateID: candidateID,
		Stage:       stage,
		Reason:      reason,
		Err:         cause,
	}
}

// TransitionError adds the attempted states to ErrInvalidTransition
type TransitionError struct {
	CandidateID uuid.UUID
	From        ReviewState
	To          ReviewState
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for candidate %s", e.From, e.To, e.CandidateID)
}

// Is matches the ErrInvalidTransition sentinel
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
