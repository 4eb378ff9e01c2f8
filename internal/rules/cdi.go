package rules

import "github.com/hai-surveillance-server/internal/domain"

const cdiVersion = "cdi-2026.01"

// cdiIncidentWindowDays is the lookback window: a prior positive inside it
// makes the new result a continuation of the earlier episode, not an
// incident event
const cdiIncidentWindowDays = 14

func cdiRuleSet() *RuleSet {
	return &RuleSet{
		Type:    domain.CDI,
		Version: cdiVersion,
		Criteria: []*Criterion{
			{
				Code:        "CD-TEST",
				Description: "Positive C. difficile test on an unformed stool specimen",
				Required:    true,
				Evaluator:   cdiTest,
			},
			{
				Code:        "CD-SYMP",
				Description: "New-onset diarrhea documented",
				Required:    true,
				Evaluator:   cdiSymptoms,
			},
			{
				Code:        "CD-INC",
				Description: "Prior positive test within the 14-day incident window",
				Exclusion:   true,
				Evaluator:   cdiIncidentWindow,
			},
			{
				Code:        "CD-ALT",
				Description: "Diarrhea attributable to laxatives or another non-infectious cause",
				Exclusion:   true,
				Evaluator:   cdiAlternateCause,
			},
		},
	}
}

func cdiTest(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	t := c.Context.CDITest
	if t == nil {
		if missingField(c, "cdi_test") {
			return domain.CriterionUnknown, map[string]string{}
		}
		return domain.CriterionNotMet, map[string]string{}
	}
	return domain.CriterionMet, map[string]string{
		"method":    t.Method,
		"result_at": t.ResultAt.Format("2006-01-02"),
	}
}

func cdiSymptoms(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	status := statusFromTri(facts.Symptom(domain.SymptomDiarrhea))
	return status, map[string]string{"diarrhea": string(facts.Symptom(domain.SymptomDiarrhea))}
}

func cdiIncidentWindow(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	t := c.Context.CDITest
	if t == nil {
		return domain.CriterionUnknown, map[string]string{}
	}
	inputs := map[string]string{"history_complete": boolStr(t.HistoryComplete)}
	if t.PriorPositiveAt != nil {
		inputs["prior_positive_at"] = t.PriorPositiveAt.Format("2006-01-02")
		cutoff := t.ResultAt.AddDate(0, 0, -cdiIncidentWindowDays)
		if t.PriorPositiveAt.After(cutoff) {
			return domain.CriterionMet, inputs
		}
		return domain.CriterionNotMet, inputs
	}
	// No prior positive on record. Only trust the absence when the testing
	// history actually covers the window.
	if t.HistoryComplete {
		return domain.CriterionNotMet, inputs
	}
	return domain.CriterionUnknown, inputs
}

func cdiAlternateCause(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{"alternate_source": string(facts.AlternateSource)}
	if facts.AlternateSourceSite != "" {
		inputs["cause"] = facts.AlternateSourceSite
	}
	return statusFromTri(facts.AlternateSource), inputs
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
