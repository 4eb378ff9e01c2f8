// Package store provides the in-memory implementation of the persistence
// interfaces. It backs tests and single-process deployments; the repository
// package provides the PostgreSQL implementation with the same semantics.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hai-surveillance-server/internal/domain"
)

// Memory is a thread-safe in-memory domain.Store
type Memory struct {
	mu sync.RWMutex

	candidates      map[uuid.UUID]*domain.Candidate
	workflows       map[uuid.UUID]*domain.Workflow
	audits          map[uuid.UUID][]*domain.AuditEntry
	extractions     map[uuid.UUID][]*domain.ExtractionResult
	classifications map[uuid.UUID][]*domain.Classification
	reviews         map[uuid.UUID][]*domain.ReviewDecision
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		candidates:      make(map[uuid.UUID]*domain.Candidate),
		workflows:       make(map[uuid.UUID]*domain.Workflow),
		audits:          make(map[uuid.UUID][]*domain.AuditEntry),
		extractions:     make(map[uuid.UUID][]*domain.ExtractionResult),
		classifications: make(map[uuid.UUID][]*domain.Classification),
		reviews:         make(map[uuid.UUID][]*domain.ReviewDecision),
	}
}

// SaveCandidate persists a candidate and opens its review workflow in the
// CREATED state
func (m *Memory) SaveCandidate(_ context.Context, c *domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.candidates[c.ID] = &cp
	m.workflows[c.ID] = &domain.Workflow{
		CandidateID: c.ID,
		State:       domain.StateCreated,
		Version:     1,
		Extraction:  domain.ExtractionNotStarted,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// GetCandidate returns the candidate or domain.ErrNotFound
func (m *Memory) GetCandidate(_ context.Context, id uuid.UUID) (*domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.candidates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ActiveCandidates returns non-retired candidates for a patient and HAI type
func (m *Memory) ActiveCandidates(_ context.Context, patientID string, t domain.HAIType) ([]*domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Candidate
	for _, c := range m.candidates {
		if c.PatientID == patientID && c.Type == t && !c.Retired {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out, nil
}

// AppendTrigger absorbs a re-trigger into an existing candidate, extending
// its evaluation window when needed
func (m *Memory) AppendTrigger(_ context.Context, id uuid.UUID, trigger domain.TriggerEvidence, windowEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Triggers = append(c.Triggers, trigger)
	if windowEnd.After(c.WindowEnd) {
		c.WindowEnd = windowEnd
	}
	return nil
}

// RetireCandidate marks a candidate retired
func (m *Memory) RetireCandidate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Retired = true
	return nil
}

// GetWorkflow returns the workflow head for a candidate
func (m *Memory) GetWorkflow(_ context.Context, candidateID uuid.UUID) (*domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[candidateID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	wp := *w
	return &wp, nil
}

// TransitionWorkflow applies a compare-and-swap state update. The caller
// passes the workflow carrying the version it read; a mismatch with the
// stored version returns domain.ErrConflict and changes nothing.
func (m *Memory) TransitionWorkflow(_ context.Context, w *domain.Workflow, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[w.CandidateID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != w.Version {
		return domain.ErrConflict
	}

	next := *w
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now().UTC()
	m.workflows[w.CandidateID] = &next

	ec := *entry
	m.audits[w.CandidateID] = append(m.audits[w.CandidateID], &ec)

	w.Version = next.Version
	w.UpdatedAt = next.UpdatedAt
	return nil
}

// AuditTrail returns the transition history for a candidate in order
func (m *Memory) AuditTrail(_ context.Context, candidateID uuid.UUID) ([]*domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.audits[candidateID]
	out := make([]*domain.AuditEntry, len(entries))
	for i, e := range entries {
		ec := *e
		out[i] = &ec
	}
	return out, nil
}

// SaveExtraction persists one extraction result, rejecting a second result
// for the same stage
func (m *Memory) SaveExtraction(_ context.Context, r *domain.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.extractions[r.CandidateID] {
		if existing.Stage == r.Stage {
			return domain.ErrDuplicateStage
		}
	}
	rc := *r
	m.extractions[r.CandidateID] = append(m.extractions[r.CandidateID], &rc)
	return nil
}

// GetExtractions returns extraction results for a candidate in insertion
// order
func (m *Memory) GetExtractions(_ context.Context, candidateID uuid.UUID) ([]*domain.ExtractionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := m.extractions[candidateID]
	out := make([]*domain.ExtractionResult, len(results))
	for i, r := range results {
		rc := *r
		out[i] = &rc
	}
	return out, nil
}

// SaveClassification appends a classification; earlier rows are retained
// for the audit trail
func (m *Memory) SaveClassification(_ context.Context, c *domain.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cc := *c
	m.classifications[c.CandidateID] = append(m.classifications[c.CandidateID], &cc)
	return nil
}

// LatestClassification returns the most recent classification or
// domain.ErrNotFound
func (m *Memory) LatestClassification(_ context.Context, candidateID uuid.UUID) (*domain.Classification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.classifications[candidateID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	cc := *list[len(list)-1]
	return &cc, nil
}

// Classifications returns the full classification history, oldest first
func (m *Memory) Classifications(_ context.Context, candidateID uuid.UUID) ([]*domain.Classification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.classifications[candidateID]
	out := make([]*domain.Classification, len(list))
	for i, c := range list {
		cc := *c
		out[i] = &cc
	}
	return out, nil
}

// SaveReviewDecision appends a reviewer decision
func (m *Memory) SaveReviewDecision(_ context.Context, d *domain.ReviewDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc := *d
	m.reviews[d.CandidateID] = append(m.reviews[d.CandidateID], &dc)
	return nil
}

// GetReviewDecision returns the most recent decision or domain.ErrNotFound
func (m *Memory) GetReviewDecision(_ context.Context, candidateID uuid.UUID) (*domain.ReviewDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.reviews[candidateID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	dc := *list[len(list)-1]
	return &dc, nil
}

// Queue lists candidates whose workflow is in one of the given states,
// ordered by window start
func (m *Memory) Queue(_ context.Context, states []domain.ReviewState, limit int) ([]*domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[domain.ReviewState]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	var out []*domain.Candidate
	for id, w := range m.workflows {
		if !wanted[w.State] {
			continue
		}
		if c, ok := m.candidates[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.Store = (*Memory)(nil)
