// Package rules implements the deterministic HAI surveillance rules engine.
// Evaluation is a pure function of a candidate's frozen clinical context and
// a validated fact set: the same inputs always produce the same decision and
// the same criterion trace, with no model involvement.
package rules

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// Criterion is one surveillance criterion inside a rule set
type Criterion struct {
	Code        string
	Description string

	// Required criteria must all be met to confirm. Exclusion criteria rule
	// the event out when met. A criterion may be neither, in which case it
	// is informational and appears in the trace without affecting the
	// decision.
	Required  bool
	Exclusion bool

	Evaluator func(c *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string)
}

// RuleSet is the versioned criteria list for one HAI type. Criteria are
// evaluated in slice order so traces are reproducible.
type RuleSet struct {
	Type     domain.HAIType
	Version  string
	Criteria []*Criterion
}

// Engine evaluates candidates against the registered rule sets
type Engine struct {
	logger *logrus.Logger
	sets   map[domain.HAIType]*RuleSet
}

// NewEngine creates a rules engine with all five HAI rule sets registered
func NewEngine(logger *logrus.Logger) *Engine {
	e := &Engine{
		logger: logger,
		sets:   make(map[domain.HAIType]*RuleSet),
	}
	e.register(clabsiRuleSet())
	e.register(cautiRuleSet())
	e.register(vaeRuleSet())
	e.register(ssiRuleSet())
	e.register(cdiRuleSet())
	return e
}

func (e *Engine) register(rs *RuleSet) {
	e.sets[rs.Type] = rs
}

// RuleSetVersion returns the active version string for a HAI type
func (e *Engine) RuleSetVersion(t domain.HAIType) string {
	if rs, ok := e.sets[t]; ok {
		return rs.Version
	}
	return ""
}

// Evaluate classifies a candidate from its frozen context and the supplied
// fact set. Confidence is carried over from the extraction stage that
// produced the facts; the engine never estimates confidence itself.
func (e *Engine) Evaluate(c *domain.Candidate, facts *domain.FactSet, source domain.ExtractionStage, confidence float64) (*domain.Classification, error) {
	rs, ok := e.sets[c.Type]
	if !ok {
		return nil, fmt.Errorf("no rule set registered for HAI type %s", c.Type)
	}

	criteria := make([]domain.CriterionResult, 0, len(rs.Criteria))
	for _, cr := range rs.Criteria {
		status, inputs := cr.Evaluator(c, facts)
		criteria = append(criteria, domain.CriterionResult{
			Code:        cr.Code,
			Description: cr.Description,
			Status:      status,
			Required:    cr.Required,
			Exclusion:   cr.Exclusion,
			Inputs:      inputs,
		})
	}

	decision := combine(criteria)

	e.logger.WithFields(logrus.Fields{
		"candidate_id": c.ID,
		"hai_type":     c.Type,
		"decision":     decision,
		"rule_set":     rs.Version,
		"source":       source,
	}).Info("Evaluated surveillance criteria")

	return &domain.Classification{
		ID:             uuid.New(),
		CandidateID:    c.ID,
		Decision:       decision,
		Criteria:       criteria,
		Confidence:     confidence,
		Source:         source,
		RuleSetVersion: rs.Version,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// combine folds the criterion trace into a final decision. A met exclusion
// or a failed required criterion rules the event out only when every
// exclusion was positively resolved; an exclusion still unknown leaves the
// opposite reading open, so the decision falls to review. Any other unknown
// among the deciding criteria also forces review, because unknown can
// neither confirm nor rule out.
func combine(criteria []domain.CriterionResult) domain.Decision {
	disqualified := false
	unknownExclusion := false
	anyUnknown := false
	for _, cr := range criteria {
		switch {
		case cr.Exclusion:
			switch cr.Status {
			case domain.CriterionMet:
				disqualified = true
			case domain.CriterionUnknown:
				unknownExclusion = true
				anyUnknown = true
			}
		case cr.Required:
			switch cr.Status {
			case domain.CriterionNotMet:
				disqualified = true
			case domain.CriterionUnknown:
				anyUnknown = true
			}
		}
	}
	if disqualified && !unknownExclusion {
		return domain.NotHAI
	}
	if anyUnknown {
		return domain.NeedsReview
	}
	return domain.HAIConfirmed
}

// statusFromTri maps a tri-state fact onto a criterion status
func statusFromTri(t domain.TriState) domain.CriterionStatus {
	switch t {
	case domain.TriPresent:
		return domain.CriterionMet
	case domain.TriAbsent:
		return domain.CriterionNotMet
	}
	return domain.CriterionUnknown
}

func missingField(c *domain.Candidate, field string) bool {
	if !c.PartialData {
		return false
	}
	for _, f := range c.MissingFields {
		if f == field {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
