// Package extract runs the two-stage fact extraction over clinical notes.
// The triage stage uses a small fast model; candidates the escalation policy
// flags get a second pass with the larger model. Everything the model says
// is validated into a FactSet before anything downstream sees it.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/pkg/inference"
)

// Config holds the per-stage model assignments, timeouts, and the triage
// context budget
type Config struct {
	TriageModel   string
	FullModel     string
	TriageTimeout time.Duration
	FullTimeout   time.Duration

	// TriageNoteBudget caps the characters of note text sent to the triage
	// model; the oldest notes are dropped first. The full stage always sees
	// the whole filtered set.
	TriageNoteBudget int
}

// Extractor runs extraction stages against a model backend. Results are
// returned to the caller unpersisted; the pipeline stores them once the
// escalation decision is attached.
type Extractor struct {
	logger  *logrus.Logger
	backend inference.Backend
	config  Config
}

// New creates an Extractor
func New(logger *logrus.Logger, backend inference.Backend, config Config) *Extractor {
	if config.TriageTimeout == 0 {
		config.TriageTimeout = 60 * time.Second
	}
	if config.FullTimeout == 0 {
		config.FullTimeout = 300 * time.Second
	}
	if config.TriageNoteBudget == 0 {
		config.TriageNoteBudget = 16000
	}
	return &Extractor{
		logger:  logger,
		backend: backend,
		config:  config,
	}
}

// Triage runs the fast first-pass extraction
func (e *Extractor) Triage(ctx context.Context, c *domain.Candidate, notes []domain.NoteRecord) (*domain.ExtractionResult, error) {
	return e.run(ctx, c, notes, domain.StageTriage, e.config.TriageModel, e.config.TriageTimeout)
}

// Full runs the detailed second-pass extraction
func (e *Extractor) Full(ctx context.Context, c *domain.Candidate, notes []domain.NoteRecord) (*domain.ExtractionResult, error) {
	return e.run(ctx, c, notes, domain.StageFull, e.config.FullModel, e.config.FullTimeout)
}

func (e *Extractor) run(ctx context.Context, c *domain.Candidate, notes []domain.NoteRecord, stage domain.ExtractionStage, model string, timeout time.Duration) (*domain.ExtractionResult, error) {
	relevant := FilterNotes(c, notes)
	if stage == domain.StageTriage {
		relevant = TruncateNotes(relevant, e.config.TriageNoteBudget)
	}

	system := triageSystemPrompt
	if stage == domain.StageFull {
		system = fullSystemPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.backend.Generate(ctx, &inference.GenerateRequest{
		Model:       model,
		Prompt:      buildPrompt(c, relevant, stage),
		System:      system,
		Temperature: 0,
		Format:      "json",
	})
	latency := time.Since(start)

	if err != nil {
		reason := classifyFailure(ctx, err)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"stage":        stage,
			"reason":       reason,
		}).Warn("Extraction stage failed")
		return nil, domain.NewExtractionError(c.ID, stage, reason, err)
	}

	facts, confidence, err := parseFacts(resp.Text)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"stage":        stage,
		}).Warn("Extraction output failed validation")
		return nil, domain.NewExtractionError(c.ID, stage, domain.ReasonMalformedOutput, err)
	}

	result := &domain.ExtractionResult{
		ID:               uuid.New(),
		CandidateID:      c.ID,
		Stage:            stage,
		Facts:            *facts,
		Confidence:       confidence,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          latency,
		CreatedAt:        time.Now().UTC(),
	}

	e.logger.WithFields(logrus.Fields{
		"candidate_id": c.ID,
		"stage":        stage,
		"model":        result.Model,
		"confidence":   confidence,
		"latency_ms":   latency.Milliseconds(),
		"notes":        len(relevant),
	}).Info("Extraction stage completed")

	return result, nil
}

// classifyFailure maps a backend error to an extraction failure reason
func classifyFailure(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ReasonTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return domain.ReasonCancelled
	}
	return domain.ReasonBackendUnavailable
}
