// Package review implements the candidate review workflow: a single-path
// state machine with optimistic concurrency, an immutable audit trail, and
// append-only reviewer decisions.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// SystemActor is recorded on transitions the pipeline performs itself
const SystemActor = "system"

// legalTransitions is the complete transition table. Anything absent is
// rejected; states are never skipped.
var legalTransitions = map[domain.ReviewState][]domain.ReviewState{
	domain.StateCreated:    {domain.StateExtracting},
	domain.StateExtracting: {domain.StateClassified},
	domain.StateClassified: {domain.StateConfirmed, domain.StateOverridden},
	domain.StateConfirmed:  {domain.StateResolved},
	domain.StateOverridden: {domain.StateResolved},
}

// Listener is notified after every committed transition. Listener failures
// are the listener's problem; the workflow has already moved on.
type Listener func(ctx context.Context, c *domain.Candidate, w *domain.Workflow)

// Manager drives candidates through the review workflow
type Manager struct {
	logger    *logrus.Logger
	store     domain.Store
	listeners []Listener
}

// NewManager creates a workflow manager
func NewManager(logger *logrus.Logger, store domain.Store) *Manager {
	return &Manager{
		logger: logger,
		store:  store,
	}
}

// Subscribe registers a listener for committed transitions. Not safe to call
// once the manager is in use.
func (m *Manager) Subscribe(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Begin moves a candidate from CREATED to EXTRACTING
func (m *Manager) Begin(ctx context.Context, candidateID uuid.UUID) error {
	return m.transition(ctx, candidateID, domain.StateExtracting, SystemActor, "", func(w *domain.Workflow) {
		w.Extraction = domain.ExtractionNotStarted
	})
}

// TrackExtraction records the extraction sub-state while the candidate is in
// EXTRACTING. Sub-state changes are CAS-versioned and audited like review
// transitions but fire no listeners.
func (m *Manager) TrackExtraction(ctx context.Context, candidateID uuid.UUID, state domain.ExtractionState) error {
	w, err := m.store.GetWorkflow(ctx, candidateID)
	if err != nil {
		return err
	}
	if w.State != domain.StateExtracting {
		return &domain.TransitionError{CandidateID: candidateID, From: w.State, To: domain.StateExtracting}
	}
	w.Extraction = state

	entry := &domain.AuditEntry{
		ID:          uuid.New(),
		CandidateID: candidateID,
		Actor:       SystemActor,
		FromState:   w.State,
		ToState:     w.State,
		Reason:      "extraction " + string(state),
		At:          time.Now().UTC(),
	}
	return m.store.TransitionWorkflow(ctx, w, entry)
}

// MarkClassified moves a candidate from EXTRACTING to CLASSIFIED. When the
// pipeline could not produce a classification, reason explains why and the
// workflow is flagged undetermined so the review queue surfaces it.
func (m *Manager) MarkClassified(ctx context.Context, candidateID uuid.UUID, undetermined bool, reason string) error {
	return m.transition(ctx, candidateID, domain.StateClassified, SystemActor, reason, func(w *domain.Workflow) {
		w.Undetermined = undetermined
		w.UndeterminedReason = reason
	})
}

// Confirm records reviewer agreement with the automated classification and
// resolves the candidate
func (m *Manager) Confirm(ctx context.Context, candidateID uuid.UUID, reviewer, note string) (*domain.ReviewDecision, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("reviewer is required")
	}
	cl, err := m.store.LatestClassification(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("no classification to confirm: %w", err)
	}

	decision := &domain.ReviewDecision{
		ID:          uuid.New(),
		CandidateID: candidateID,
		Reviewer:    reviewer,
		Decision:    cl.Decision,
		Agreement:   true,
		Note:        note,
		CreatedAt:   time.Now().UTC(),
	}
	return m.resolve(ctx, candidateID, domain.StateConfirmed, reviewer, note, decision)
}

// Override records a reviewer decision that replaces the automated
// classification. A reason is mandatory.
func (m *Manager) Override(ctx context.Context, candidateID uuid.UUID, reviewer string, decision domain.Decision, reason, note string) (*domain.ReviewDecision, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("reviewer is required")
	}
	if reason == "" {
		return nil, domain.ErrEmptyOverrideReason
	}

	agreement := false
	if cl, err := m.store.LatestClassification(ctx, candidateID); err == nil {
		agreement = cl.Decision == decision
	}

	rd := &domain.ReviewDecision{
		ID:             uuid.New(),
		CandidateID:    candidateID,
		Reviewer:       reviewer,
		Decision:       decision,
		Agreement:      agreement,
		OverrideReason: reason,
		Note:           note,
		CreatedAt:      time.Now().UTC(),
	}
	return m.resolve(ctx, candidateID, domain.StateOverridden, reviewer, reason, rd)
}

// resolve takes a candidate through the terminal transition pair. A prior
// attempt that failed between the two transitions leaves the workflow parked
// in the intermediate state; rather than rejecting the retry, resolve resumes
// it, reusing the saved decision when one exists so the chain stays at
// exactly one terminal entry.
func (m *Manager) resolve(ctx context.Context, candidateID uuid.UUID, via domain.ReviewState, actor, reason string, decision *domain.ReviewDecision) (*domain.ReviewDecision, error) {
	w, err := m.store.GetWorkflow(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	if w.State == via {
		if prior, err := m.store.GetReviewDecision(ctx, candidateID); err == nil {
			decision = prior
		} else if err := m.store.SaveReviewDecision(ctx, decision); err != nil {
			return nil, fmt.Errorf("failed to save review decision: %w", err)
		}
	} else {
		if err := m.transition(ctx, candidateID, via, actor, reason, nil); err != nil {
			return nil, err
		}
		if err := m.store.SaveReviewDecision(ctx, decision); err != nil {
			return nil, fmt.Errorf("failed to save review decision: %w", err)
		}
	}

	if err := m.transition(ctx, candidateID, domain.StateResolved, SystemActor, "review decision recorded", nil); err != nil {
		return nil, err
	}
	return decision, nil
}

// transition performs one CAS state change with its audit entry and fires
// listeners on success
func (m *Manager) transition(ctx context.Context, candidateID uuid.UUID, to domain.ReviewState, actor, reason string, mutate func(*domain.Workflow)) error {
	w, err := m.store.GetWorkflow(ctx, candidateID)
	if err != nil {
		return err
	}

	if !allowed(w.State, to) {
		return &domain.TransitionError{CandidateID: candidateID, From: w.State, To: to}
	}

	from := w.State
	w.State = to
	if mutate != nil {
		mutate(w)
	}

	entry := &domain.AuditEntry{
		ID:          uuid.New(),
		CandidateID: candidateID,
		Actor:       actor,
		FromState:   from,
		ToState:     to,
		Reason:      reason,
		At:          time.Now().UTC(),
	}

	if err := m.store.TransitionWorkflow(ctx, w, entry); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"candidate_id": candidateID,
		"from":         from,
		"to":           to,
		"actor":        actor,
	}).Info("Workflow transition")

	if len(m.listeners) > 0 {
		c, err := m.store.GetCandidate(ctx, candidateID)
		if err != nil {
			m.logger.WithError(err).Warn("Failed to load candidate for transition listeners")
			return nil
		}
		for _, l := range m.listeners {
			l(ctx, c, w)
		}
	}
	return nil
}

func allowed(from, to domain.ReviewState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
