// Package pipeline orchestrates the surveillance flow from structured-event
// scan to classified candidate: detection, two-stage extraction, rules
// evaluation, and workflow transitions. Candidates are processed with
// bounded parallelism; the full extraction stage is additionally serialized
// through a weighted semaphore because the large model monopolizes the
// inference backend.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hai-surveillance-server/internal/detector"
	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/extract"
	"github.com/hai-surveillance-server/internal/review"
	"github.com/hai-surveillance-server/internal/rules"
)

// Config bounds pipeline concurrency
type Config struct {
	// Concurrency is the number of candidates processed in parallel.
	Concurrency int
	// FullConcurrency caps concurrent full-stage extractions.
	FullConcurrency int64
}

// Pipeline drives candidates from detection through classification
type Pipeline struct {
	logger    *logrus.Logger
	store     domain.Store
	source    domain.DataSource
	detector  *detector.Detector
	extractor *extract.Extractor
	engine    *rules.Engine
	workflow  *review.Manager
	policy    extract.EscalationPolicy

	concurrency int
	fullSem     *semaphore.Weighted
}

// New creates a Pipeline
func New(
	logger *logrus.Logger,
	store domain.Store,
	source domain.DataSource,
	det *detector.Detector,
	ext *extract.Extractor,
	engine *rules.Engine,
	workflow *review.Manager,
	policy extract.EscalationPolicy,
	config Config,
) *Pipeline {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.FullConcurrency <= 0 {
		config.FullConcurrency = 1
	}
	return &Pipeline{
		logger:      logger,
		store:       store,
		source:      source,
		detector:    det,
		extractor:   ext,
		engine:      engine,
		workflow:    workflow,
		policy:      policy,
		concurrency: config.Concurrency,
		fullSem:     semaphore.NewWeighted(config.FullConcurrency),
	}
}

// ProcessWindow scans a patient window and processes every new candidate.
// One candidate failing never aborts the others; failures surface as
// undetermined workflows in the review queue.
func (p *Pipeline) ProcessWindow(ctx context.Context, w *domain.PatientWindow) ([]*domain.Candidate, error) {
	candidates, err := p.detector.Scan(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("detection scan failed: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			p.ProcessCandidate(ctx, c)
			return nil
		})
	}
	g.Wait()
	return candidates, nil
}

// ProcessCandidate runs one candidate through extraction and classification,
// leaving its workflow in CLASSIFIED whether or not extraction succeeded.
// The rules engine is invoked exactly once, on the authoritative fact set:
// full-stage facts when escalation occurred, triage facts otherwise. An
// escalated candidate whose full stage fails gets no classification at all;
// the triage facts were already judged insufficient.
func (p *Pipeline) ProcessCandidate(ctx context.Context, c *domain.Candidate) {
	if err := p.workflow.Begin(ctx, c.ID); err != nil {
		p.logger.WithError(err).WithField("candidate_id", c.ID).Error("Failed to begin extraction")
		return
	}

	notes, err := p.source.Notes(ctx, c.PatientID, c.EncounterID, c.WindowStart, c.WindowEnd)
	if err != nil {
		p.markUndetermined(ctx, c, fmt.Sprintf("notes unavailable: %v", err))
		return
	}

	triage, err := p.extractor.Triage(ctx, c, notes)
	if err != nil {
		p.markUndetermined(ctx, c, failureReason(err))
		return
	}

	escalate, triggers := p.policy.Decide(c, triage)
	triage.EscalationTriggers = triggers

	if err := p.store.SaveExtraction(ctx, triage); err != nil {
		p.markUndetermined(ctx, c, fmt.Sprintf("failed to persist triage result: %v", err))
		return
	}
	p.trackExtraction(ctx, c, domain.ExtractionTriaged)

	authoritative := triage
	if escalate {
		p.trackExtraction(ctx, c, domain.ExtractionEscalated)
		p.logger.WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"triggers":     triggers,
		}).Info("Escalating candidate to full extraction")

		if err := p.fullSem.Acquire(ctx, 1); err != nil {
			p.markUndetermined(ctx, c, failureReason(domain.NewExtractionError(c.ID, domain.StageFull, domain.ReasonCancelled, err)))
			return
		}
		full, err := p.extractor.Full(ctx, c, notes)
		p.fullSem.Release(1)

		if err != nil {
			p.markUndetermined(ctx, c, failureReason(err))
			return
		}
		if err := p.store.SaveExtraction(ctx, full); err != nil {
			p.markUndetermined(ctx, c, fmt.Sprintf("failed to persist full result: %v", err))
			return
		}
		p.trackExtraction(ctx, c, domain.ExtractionFullyExtracted)
		authoritative = full
	} else {
		p.trackExtraction(ctx, c, domain.ExtractionFastPathDone)
	}

	cl, err := p.engine.Evaluate(c, &authoritative.Facts, authoritative.Stage, authoritative.Confidence)
	if err != nil {
		p.markUndetermined(ctx, c, fmt.Sprintf("rules evaluation failed: %v", err))
		return
	}
	if err := p.store.SaveClassification(ctx, cl); err != nil {
		p.markUndetermined(ctx, c, fmt.Sprintf("failed to persist classification: %v", err))
		return
	}

	p.finishClassified(ctx, c, false, "")
}

// trackExtraction advances the workflow's extraction sub-state. Failure here
// is bookkeeping, never a reason to abandon the candidate.
func (p *Pipeline) trackExtraction(ctx context.Context, c *domain.Candidate, state domain.ExtractionState) {
	if err := p.workflow.TrackExtraction(context.WithoutCancel(ctx), c.ID, state); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"candidate_id":     c.ID,
			"extraction_state": state,
		}).Warn("Failed to record extraction state")
	}
}

// finishClassified moves the workflow to CLASSIFIED. Failure paths run it on
// a detached context so a cancelled scan still parks the candidate for
// review instead of stranding it in EXTRACTING.
func (p *Pipeline) finishClassified(ctx context.Context, c *domain.Candidate, undetermined bool, reason string) {
	if err := p.workflow.MarkClassified(context.WithoutCancel(ctx), c.ID, undetermined, reason); err != nil {
		p.logger.WithError(err).WithField("candidate_id", c.ID).Error("Failed to mark candidate classified")
	}
}

func (p *Pipeline) markUndetermined(ctx context.Context, c *domain.Candidate, reason string) {
	p.logger.WithFields(logrus.Fields{
		"candidate_id": c.ID,
		"reason":       reason,
	}).Warn("Candidate needs manual review without automated classification")
	p.finishClassified(ctx, c, true, reason)
}

func failureReason(err error) string {
	var exErr *domain.ExtractionError
	if errors.As(err, &exErr) {
		return fmt.Sprintf("%s extraction failed: %s", exErr.Stage, exErr.Reason)
	}
	return err.Error()
}
