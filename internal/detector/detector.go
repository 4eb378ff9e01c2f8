// Package detector turns structured clinical events into HAI candidates.
// Detection is intentionally liberal: every trigger that fires becomes a
// candidate, with ambiguity resolved downstream by extraction and review.
package detector

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// retiredCacheSize bounds the per-process memory of the recurrence cache
const retiredCacheSize = 4096

type windowSpan struct {
	start time.Time
	end   time.Time
}

// Detector scans patient windows for HAI trigger conditions and manages
// candidate dedup across repeated scans
type Detector struct {
	logger *logrus.Logger
	store  domain.CandidateStore

	// retired caches the window spans of retired candidates keyed by
	// patient and HAI type. A new trigger whose window overlaps a retired
	// span is the same clinical episode re-firing, not a recurrence, and is
	// suppressed. Only a fully disjoint window opens a new candidate.
	retired *lru.Cache[string, []windowSpan]
}

// New creates a Detector backed by the given candidate store
func New(logger *logrus.Logger, store domain.CandidateStore) (*Detector, error) {
	cache, err := lru.New[string, []windowSpan](retiredCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create retired-window cache: %w", err)
	}
	return &Detector{
		logger:  logger,
		store:   store,
		retired: cache,
	}, nil
}

// Scan evaluates all trigger conditions over the window and returns the
// candidates created by this pass. Triggers that overlap an existing active
// candidate are merged into it instead of creating a duplicate.
func (d *Detector) Scan(ctx context.Context, w *domain.PatientWindow) ([]*domain.Candidate, error) {
	if err := validateWindow(w); err != nil {
		return nil, err
	}

	drafts := make([]*draft, 0, 4)
	drafts = append(drafts, detectCLABSI(w)...)
	drafts = append(drafts, detectCAUTI(w)...)
	drafts = append(drafts, detectVAE(w)...)
	drafts = append(drafts, detectSSI(w)...)
	drafts = append(drafts, detectCDI(w)...)

	created := make([]*domain.Candidate, 0, len(drafts))
	for _, dr := range drafts {
		c, err := d.place(ctx, w, dr)
		if err != nil {
			return created, err
		}
		if c != nil {
			created = append(created, c)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"patient_id":   w.PatientID,
		"encounter_id": w.EncounterID,
		"triggers":     len(drafts),
		"created":      len(created),
	}).Info("Completed detection scan")

	return created, nil
}

// place dedups a draft against active candidates and the retired-window
// cache, creating a new candidate only for a genuinely new episode
func (d *Detector) place(ctx context.Context, w *domain.PatientWindow, dr *draft) (*domain.Candidate, error) {
	if d.overlapsRetired(w.PatientID, dr.haiType, dr.windowStart, dr.windowEnd) {
		d.logger.WithFields(logrus.Fields{
			"patient_id": w.PatientID,
			"hai_type":   dr.haiType,
		}).Debug("Trigger overlaps retired window, suppressed")
		return nil, nil
	}

	active, err := d.store.ActiveCandidates(ctx, w.PatientID, dr.haiType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active candidates: %w", err)
	}
	for _, existing := range active {
		if existing.EncounterID == w.EncounterID && existing.Overlaps(dr.windowStart, dr.windowEnd) {
			end := existing.WindowEnd
			if dr.windowEnd.After(end) {
				end = dr.windowEnd
			}
			if err := d.store.AppendTrigger(ctx, existing.ID, dr.trigger, end); err != nil {
				return nil, fmt.Errorf("failed to merge trigger: %w", err)
			}
			return nil, nil
		}
	}

	c := dr.build(w)
	if err := d.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save candidate: %w", err)
	}
	return c, nil
}

// Retire marks a candidate retired and records its window so later triggers
// inside the same span do not resurrect the episode
func (d *Detector) Retire(ctx context.Context, c *domain.Candidate) error {
	if err := d.store.RetireCandidate(ctx, c.ID); err != nil {
		return err
	}
	key := retiredKey(c.PatientID, c.Type)
	spans, _ := d.retired.Get(key)
	spans = append(spans, windowSpan{start: c.WindowStart, end: c.WindowEnd})
	d.retired.Add(key, spans)
	return nil
}

func (d *Detector) overlapsRetired(patientID string, t domain.HAIType, start, end time.Time) bool {
	spans, ok := d.retired.Get(retiredKey(patientID, t))
	if !ok {
		return false
	}
	for _, s := range spans {
		if !start.After(s.end) && !end.Before(s.start) {
			return true
		}
	}
	return false
}

func retiredKey(patientID string, t domain.HAIType) string {
	return patientID + "|" + string(t)
}

// validateWindow rejects windows with out-of-order events. The trigger
// logic assumes chronological order and silent reordering would mask feed
// defects.
func validateWindow(w *domain.PatientWindow) error {
	if w.PatientID == "" {
		return fmt.Errorf("patient window missing patient id")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("patient window end precedes start")
	}
	for i := 1; i < len(w.Events); i++ {
		if w.Events[i].Timestamp.Before(w.Events[i-1].Timestamp) {
			return fmt.Errorf("events out of order at index %d", i)
		}
	}
	return nil
}
