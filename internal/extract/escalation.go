package extract

import "github.com/hai-surveillance-server/internal/domain"

// Escalation trigger names recorded on triage results
const (
	TriggerLowConfidence     = "low_confidence"
	TriggerAmbiguousNotes    = "ambiguous_impression"
	TriggerPoorDocumentation = "poor_documentation"
	TriggerAlternateSource   = "alternate_source_mentioned"
	TriggerContamination     = "contamination_mentioned"
	TriggerMultipleOrganisms = "multiple_organisms"
	TriggerDeviceFactors     = "device_factors"
	TriggerPartialData       = "partial_data"
)

// EscalationPolicy decides whether a triage result needs the full extraction
// pass. The decision is a pure function of the triage result and the
// candidate's frozen metadata: no model call, no randomness, no clock.
// Changing a threshold changes escalation behavior system-wide in one place.
type EscalationPolicy struct {
	// ConfidenceThreshold is the minimum triage confidence that can settle
	// a candidate on the fast path.
	ConfidenceThreshold float64
}

// DefaultEscalationPolicy returns the deployed thresholds
func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{ConfidenceThreshold: 0.8}
}

// Decide returns whether to escalate and the triggers that fired, in a fixed
// order so stored results are comparable across runs
func (p EscalationPolicy) Decide(c *domain.Candidate, r *domain.ExtractionResult) (bool, []string) {
	var triggers []string

	if r.Confidence < p.ConfidenceThreshold {
		triggers = append(triggers, TriggerLowConfidence)
	}
	if r.Facts.ImpressionAmbiguous {
		triggers = append(triggers, TriggerAmbiguousNotes)
	}
	if r.Facts.DocQuality == domain.DocPoor || r.Facts.DocQuality == domain.DocLimited {
		triggers = append(triggers, TriggerPoorDocumentation)
	}
	if r.Facts.AlternateSource == domain.TriPresent {
		triggers = append(triggers, TriggerAlternateSource)
	}
	if r.Facts.ContaminationMentioned == domain.TriPresent {
		triggers = append(triggers, TriggerContamination)
	}
	if len(r.Facts.Organisms) > 1 {
		triggers = append(triggers, TriggerMultipleOrganisms)
	}
	if r.Facts.MBIFactors == domain.TriPresent {
		triggers = append(triggers, TriggerDeviceFactors)
	}
	if c.PartialData {
		triggers = append(triggers, TriggerPartialData)
	}

	return len(triggers) > 0, triggers
}
