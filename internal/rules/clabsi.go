package rules

import (
	"strings"

	"github.com/hai-surveillance-server/internal/domain"
)

const clabsiVersion = "clabsi-2026.01"

func clabsiRuleSet() *RuleSet {
	return &RuleSet{
		Type:    domain.CLABSI,
		Version: clabsiVersion,
		Criteria: []*Criterion{
			{
				Code:        "CL-DEV",
				Description: "Central line in place for more than two calendar days at culture collection",
				Required:    true,
				Evaluator:   clabsiDeviceDays,
			},
			{
				Code:        "CL-CX",
				Description: "Positive blood culture collected within the device-attribution window",
				Required:    true,
				Evaluator:   clabsiBloodCulture,
			},
			{
				Code:        "CL-ORG",
				Description: "Recovered organism qualifies as a bloodstream pathogen",
				Required:    true,
				Evaluator:   clabsiOrganism,
			},
			{
				Code:        "CL-SYMP",
				Description: "Fever, chills, or hypotension documented when only commensals are recovered",
				Required:    true,
				Evaluator:   clabsiSymptoms,
			},
			{
				Code:        "CL-ALT",
				Description: "Bloodstream infection attributable to an infection at another site",
				Exclusion:   true,
				Evaluator:   clabsiAlternateSource,
			},
			{
				Code:        "CL-MBI",
				Description: "Mucosal barrier injury factors documented",
				Evaluator:   clabsiMBI,
			},
		},
	}
}

func clabsiDeviceDays(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{
		"device_kind": string(c.Context.DeviceKind),
		"device_days": itoa(c.Context.DeviceDays),
	}
	if missingField(c, "device_days") {
		return domain.CriterionUnknown, inputs
	}
	if c.Context.DeviceKind == domain.DeviceCentralLine && c.Context.DeviceDays >= 2 {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func clabsiBloodCulture(c *domain.Candidate, _ *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	positives := positiveCultures(c, "blood")
	inputs := map[string]string{"positive_blood_cultures": itoa(len(positives))}
	if len(positives) > 0 {
		return domain.CriterionMet, inputs
	}
	return domain.CriterionNotMet, inputs
}

func clabsiOrganism(c *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	positives := positiveCultures(c, "blood")
	inputs := map[string]string{}
	if len(positives) == 0 {
		return domain.CriterionNotMet, inputs
	}

	for _, cx := range positives {
		if cx.Organism != "" && !isCommensal(cx.Organism) {
			inputs["organism"] = cx.Organism
			inputs["pathway"] = "recognized_pathogen"
			return domain.CriterionMet, inputs
		}
	}

	// Commensals only. Count cultures per organism drawn on separate days.
	counts := make(map[string]int)
	days := make(map[string]map[string]bool)
	for _, cx := range positives {
		org := strings.ToLower(strings.TrimSpace(cx.Organism))
		if org == "" {
			continue
		}
		day := cx.CollectedAt.Format("2006-01-02")
		if days[org] == nil {
			days[org] = make(map[string]bool)
		}
		if !days[org][day] {
			days[org][day] = true
			counts[org]++
		}
	}
	inputs["pathway"] = "commensal"
	for _, cx := range positives {
		org := strings.ToLower(strings.TrimSpace(cx.Organism))
		if counts[org] >= 2 {
			inputs["organism"] = org
			inputs["culture_occasions"] = itoa(counts[org])
			return domain.CriterionMet, inputs
		}
	}

	// Exactly one commensal culture. Documented contamination settles it as
	// not met; otherwise the trace stays unknown and a human decides.
	if facts.ContaminationMentioned == domain.TriPresent {
		inputs["contamination_mentioned"] = "true"
		return domain.CriterionNotMet, inputs
	}
	inputs["culture_occasions"] = "1"
	return domain.CriterionUnknown, inputs
}

func clabsiSymptoms(c *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	// Symptoms are only deciding for the commensal pathway. A recognized
	// pathogen meets criteria without documented symptoms.
	for _, cx := range positiveCultures(c, "blood") {
		if cx.Organism != "" && !isCommensal(cx.Organism) {
			return domain.CriterionMet, map[string]string{"pathway": "recognized_pathogen"}
		}
	}
	status := statusFromTri(facts.AnySymptom(domain.SymptomFever, domain.SymptomChills, domain.SymptomHypotension))
	return status, map[string]string{
		"fever":       string(facts.Symptom(domain.SymptomFever)),
		"chills":      string(facts.Symptom(domain.SymptomChills)),
		"hypotension": string(facts.Symptom(domain.SymptomHypotension)),
	}
}

func clabsiAlternateSource(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	inputs := map[string]string{"alternate_source": string(facts.AlternateSource)}
	if facts.AlternateSourceSite != "" {
		inputs["site"] = facts.AlternateSourceSite
	}
	return statusFromTri(facts.AlternateSource), inputs
}

func clabsiMBI(_ *domain.Candidate, facts *domain.FactSet) (domain.CriterionStatus, map[string]string) {
	return statusFromTri(facts.MBIFactors), map[string]string{"mbi_factors": string(facts.MBIFactors)}
}

// positiveCultures filters the candidate's frozen cultures down to positive
// results for the given specimen type
func positiveCultures(c *domain.Candidate, specimen string) []domain.CultureResult {
	var out []domain.CultureResult
	for _, cx := range c.Context.Cultures {
		if cx.Positive && strings.EqualFold(cx.Specimen, specimen) {
			out = append(out, cx)
		}
	}
	return out
}
