package rules

import (
	"fmt"

	"github.com/hai-surveillance-server/internal/domain"
)

const vaeVersion = "vae-2026.01"

// VAE deterioration thresholds over the daily minimum ventilator settings
const (
	vaePEEPRise      = 3.0
	vaeFiO2Rise      = 0.20
	vaeSustainedDays = 2
	vaeBaselineDays  = 2
)

func vaeRuleSet() *RuleSet {
	return &RuleSet{
		Type:    domain.VAE,
		Version: vaeVersion,
		Criteria: []*Criterion{
			{
				Code:        "VA-VENT",
				Description: "Mechanical ventilation with at least two days of stable or improving settings",
				Required:    true,
				Evaluator:   vaeVentCourse,
			},
			{
				Code:        "VA-DET",
				Description: "Sustained rise in daily minimum PEEP or FiO2 after the baseline period",
				Required:    true,
				Evaluator:   vaeDeterioration,
			},
			{
				Code:        "VA-INF",
				Description: "Purulent respiratory secretions or respiratory infection documented",
				Evaluator:   vaeInfectionSigns,
			},
			{
				Code:        "VA-ALT",
				Description: "Deterioration attributable to a non-infectious cause",
				Exclusion:   true,
				Evaluator:   vaeAlternateCause,
			},
		},
	}
}

func vaeVentCourse(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	vc := c.Context.VentCourse
	if vc == nil {
		if missingField(c, "vent_course") {
			return domain.CriterionUnknown, map[string]string{}
		}
		return domain.CriterionNotMet, map[string]string{}
	}
	inputs := map[string]string{
		"vent_days":     itoa(vc.VentDays),
		"baseline_days": itoa(vc.BaselineDays),
	}
	if vc.BaselineDays >= vaeBaselineDays {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func vaeDeterioration(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	vc := c.Context.VentCourse
	if vc == nil {
		return domain.CriterionUnknown, map[string]string{}
	}
	inputs := map[string]string{
		"peep_rise":      fmt.Sprintf("%.1f", vc.PEEPRise),
		"fio2_rise":      fmt.Sprintf("%.2f", vc.FiO2Rise),
		"sustained_days": itoa(vc.SustainedDays),
	}
	if vc.SustainedDays >= vaeSustainedDays && (vc.PEEPRise >= vaePEEPRise || vc.FiO2Rise >= vaeFiO2Rise) {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func vaeInfectionSigns(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	status := statusFromTri(facts.AnySymptom(domain.SymptomPurulentSecretions, domain.SymptomFever))
	return status, map[string]string{
		"purulent_secretions": string(facts.Symptom(domain.SymptomPurulentSecretions)),
		"fever":               string(facts.Symptom(domain.SymptomFever)),
	}
}

func vaeAlternateCause(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{"alternate_source": string(facts.AlternateSource)}
	if facts.AlternateSourceSite != "" {
		inputs["cause"] = facts.AlternateSourceSite
	}
	return statusFromTri(facts.AlternateSource), inputs
}
