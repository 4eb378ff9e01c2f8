package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// Collector assembles training examples from resolved candidates. It hangs
// off the review workflow as a transition listener and does its work in the
// background: a storage outage delays collection but never blocks a review.
type Collector struct {
	logger *logrus.Logger
	store  Store
	data   domain.Store
	source domain.DataSource

	retries    int
	retryDelay time.Duration

	wg sync.WaitGroup
}

// NewCollector creates a Collector
func NewCollector(logger *logrus.Logger, store Store, data domain.Store, source domain.DataSource) *Collector {
	return &Collector{
		logger:     logger,
		store:      store,
		data:       data,
		source:     source,
		retries:    3,
		retryDelay: 2 * time.Second,
	}
}

// OnTransition is the review workflow listener. Only RESOLVED transitions
// trigger collection.
func (c *Collector) OnTransition(_ context.Context, cand *domain.Candidate, w *domain.Workflow) {
	if w.State != domain.StateResolved {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Detached from the request context: the review is already committed.
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		c.collectWithRetry(ctx, cand)
	}()
}

// Wait blocks until in-flight collections finish. Used by tests and
// graceful shutdown.
func (c *Collector) Wait() {
	c.wg.Wait()
}

func (c *Collector) collectWithRetry(ctx context.Context, cand *domain.Candidate) {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return
			}
		}
		if err = c.collect(ctx, cand); err == nil {
			return
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"candidate_id": cand.ID,
			"attempt":      attempt + 1,
		}).Warn("Training collection attempt failed")
	}
	c.logger.WithError(err).WithField("candidate_id", cand.ID).Error("Training collection gave up")
}

// collect builds and saves the example for one resolved candidate. The
// unique candidate constraint in the store makes this exactly-once even if
// the resolve transition fires twice.
func (c *Collector) collect(ctx context.Context, cand *domain.Candidate) error {
	if exists, err := c.store.Exists(ctx, cand.ID); err != nil {
		return fmt.Errorf("failed to check for existing example: %w", err)
	} else if exists {
		return nil
	}

	notes, err := c.source.Notes(ctx, cand.PatientID, cand.EncounterID, cand.WindowStart, cand.WindowEnd)
	if err != nil {
		return fmt.Errorf("failed to load notes: %w", err)
	}

	extractions, err := c.data.GetExtractions(ctx, cand.ID)
	if err != nil {
		return fmt.Errorf("failed to load extractions: %w", err)
	}
	var triage, full *domain.ExtractionResult
	for _, r := range extractions {
		switch r.Stage {
		case domain.StageTriage:
			triage = r
		case domain.StageFull:
			full = r
		}
	}

	classification, err := c.data.LatestClassification(ctx, cand.ID)
	if err != nil && err != domain.ErrNotFound {
		return fmt.Errorf("failed to load classification: %w", err)
	}

	review, err := c.data.GetReviewDecision(ctx, cand.ID)
	if err != nil {
		return fmt.Errorf("failed to load review decision: %w", err)
	}

	example := &domain.TrainingExample{
		CandidateID:    cand.ID,
		Type:           cand.Type,
		Notes:          notes,
		Triage:         triage,
		Full:           full,
		Classification: classification,
		Review:         *review,
		CreatedAt:      time.Now().UTC(),
	}

	saved, err := c.store.Save(ctx, example)
	if err != nil {
		return fmt.Errorf("failed to save training example: %w", err)
	}
	if !saved {
		return nil
	}

	delta := Stats{
		Total:       1,
		Triggers:    make(map[string]int64),
		TotalByType: map[string]int64{string(cand.Type): 1},
	}
	if full != nil {
		delta.Escalated = 1
		delta.EscalatedByType = map[string]int64{string(cand.Type): 1}
	}
	if triage != nil {
		for _, trigger := range triage.EscalationTriggers {
			delta.Triggers[trigger]++
		}
	}
	if triageAgreed(ctx, c.data, cand, review) {
		delta.TriageAgreement = 1
	}
	if err := c.store.AddStats(ctx, delta); err != nil {
		// The example is recorded; stale counters are not worth a retry
		// loop that could double-insert them.
		c.logger.WithError(err).WithField("candidate_id", cand.ID).Warn("Failed to update escalation stats")
	}

	c.logger.WithFields(logrus.Fields{
		"candidate_id": cand.ID,
		"hai_type":     cand.Type,
		"escalated":    full != nil,
	}).Info("Collected training example")
	return nil
}

// triageAgreed reports whether the triage-stage classification matched the
// reviewer's final decision
func triageAgreed(ctx context.Context, data domain.Store, cand *domain.Candidate, review *domain.ReviewDecision) bool {
	classifications, err := data.Classifications(ctx, cand.ID)
	if err != nil {
		return false
	}
	for _, cl := range classifications {
		if cl.Source == domain.StageTriage {
			return cl.Decision == review.Decision
		}
	}
	return false
}
