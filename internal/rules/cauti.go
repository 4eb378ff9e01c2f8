package rules

import "github.com/hai-surveillance-server/internal/domain"

const cautiVersion = "cauti-2026.01"

// cautiColonyThreshold is the minimum colony count (CFU/ml) for a
// qualifying urine culture
const cautiColonyThreshold = 100_000

func cautiRuleSet() *RuleSet {
	return &RuleSet{
		Type:    domain.CAUTI,
		Version: cautiVersion,
		Criteria: []*Criterion{
			{
				Code:        "CA-DEV",
				Description: "Indwelling urinary catheter in place for more than two calendar days",
				Required:    true,
				Evaluator:   cautiDeviceDays,
			},
			{
				Code:        "CA-CX",
				Description: "Urine culture with at least 10^5 CFU/ml of a recognized uropathogen",
				Required:    true,
				Evaluator:   cautiUrineCulture,
			},
			{
				Code:        "CA-SYMP",
				Description: "Fever, dysuria, or suprapubic tenderness documented",
				Required:    true,
				Evaluator:   cautiSymptoms,
			},
			{
				Code:        "CA-ALT",
				Description: "Symptoms attributable to an infection at another site",
				Exclusion:   true,
				Evaluator:   cautiAlternateSource,
			},
		},
	}
}

func cautiDeviceDays(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{
		"device_kind": string(c.Context.DeviceKind),
		"device_days": itoa(c.Context.DeviceDays),
	}
	if missingField(c, "device_days") {
		return domain.CriterionUnknown, inputs
	}
	if c.Context.DeviceKind == domain.DeviceUrinaryCatheter && c.Context.DeviceDays >= 2 {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func cautiUrineCulture(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{}
	for _, cx := range positiveCultures(c, "urine") {
		inputs["organism"] = cx.Organism
		inputs["colony_count"] = itoa(int(cx.ColonyCount))
		if cx.ColonyCount >= cautiColonyThreshold {
			return domain.CriterionMet, inputs
		}
	}
	// A feed without colony counts reports 0 for a positive culture; that is
	// missing data, not a sub-threshold result.
	if missingField(c, "colony_count") {
		inputs["colony_count"] = "missing"
		return domain.CriterionUnknown, inputs
	}
	return domain.CriterionNotMet, inputs
}

func cautiSymptoms(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	status := statusFromTri(facts.AnySymptom(domain.SymptomFever, domain.SymptomDysuria, domain.SymptomSuprapubicPain))
	return status, map[string]string{
		"fever":                 string(facts.Symptom(domain.SymptomFever)),
		"dysuria":               string(facts.Symptom(domain.SymptomDysuria)),
		"suprapubic_tenderness": string(facts.Symptom(domain.SymptomSuprapubicPain)),
	}
}

func cautiAlternateSource(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{"alternate_source": string(facts.AlternateSource)}
	if facts.AlternateSourceSite != "" {
		inputs["site"] = facts.AlternateSourceSite
	}
	return statusFromTri(facts.AlternateSource), inputs
}
