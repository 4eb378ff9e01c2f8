package rules

import "github.com/hai-surveillance-server/internal/domain"

const ssiVersion = "ssi-2026.01"

// ssiWindowDays is the post-operative surveillance window
const ssiWindowDays = 30

func ssiRuleSet() *RuleSet {
	return &RuleSet{
		Type:    domain.SSI,
		Version: ssiVersion,
		Criteria: []*Criterion{
			{
				Code:        "SS-PROC",
				Description: "Qualifying operative procedure within the 30-day surveillance window",
				Required:    true,
				Evaluator:   ssiProcedure,
			},
			{
				Code:        "SS-FIND",
				Description: "Purulent drainage or documented infection at the surgical site",
				Required:    true,
				Evaluator:   ssiWoundFindings,
			},
			{
				Code:        "SS-ALT",
				Description: "Findings attributable to an infection at another site",
				Exclusion:   true,
				Evaluator:   ssiAlternateSource,
			},
		},
	}
}

func ssiProcedure(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	p := c.Context.Procedure
	if p == nil {
		if missingField(c, "procedure") {
			return domain.CriterionUnknown, map[string]string{}
		}
		return domain.CriterionNotMet, map[string]string{}
	}
	inputs := map[string]string{
		"procedure_code": p.Code,
		"performed_at":   p.PerformedAt.Format("2006-01-02"),
	}
	if p.WoundClass != "" {
		inputs["wound_class"] = p.WoundClass
	}
	deadline := p.PerformedAt.AddDate(0, 0, ssiWindowDays)
	if !c.WindowEnd.After(deadline) {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func ssiWoundFindings(c *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{
		"purulent_drainage": string(facts.Symptom(domain.SymptomPurulentDrainage)),
		"site_finding":      string(facts.DeviceSiteFinding),
	}
	if facts.DeviceSiteNote != "" {
		inputs["site_note"] = facts.DeviceSiteNote
	}

	// A wound culture growing an organism is also confirmatory.
	if len(positiveCultures(c, "wound")) > 0 {
		inputs["wound_culture"] = "positive"
		return domain.CriterionMet, inputs
	}

	drainage := facts.Symptom(domain.SymptomPurulentDrainage)
	site := facts.DeviceSiteFinding
	switch {
	case drainage == domain.TriPresent || site == domain.TriPresent:
		return domain.CriterionMet, inputs
	case drainage == domain.TriAbsent && site == domain.TriAbsent:
		return domain.CriterionNotMet, inputs
	}
	return domain.CriterionUnknown, inputs
}

func ssiAlternateSource(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{"alternate_source": string(facts.AlternateSource)}
	if facts.AlternateSourceSite != "" {
		inputs["site"] = facts.AlternateSourceSite
	}
	return statusFromTri(facts.AlternateSource), inputs
}
