package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai-surveillance-server/internal/domain"
)

func testEngine() *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewEngine(logger)
}

func day(d int) time.Time {
	return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func clabsiCandidate(cultures ...domain.CultureResult) *domain.Candidate {
	return &domain.Candidate{
		ID:          uuid.New(),
		Type:        domain.CLABSI,
		PatientID:   "P001",
		EncounterID: "E001",
		WindowStart: day(0),
		WindowEnd:   day(4),
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceCentralLine,
			DeviceDays: 3,
			Cultures:   cultures,
		},
		CreatedAt: day(0),
	}
}

func criterionStatus(t *testing.T, c *domain.Classification, code string) domain.CriterionStatus {
	t.Helper()
	for _, cr := range c.Criteria {
		if cr.Code == code {
			return cr.Status
		}
	}
	t.Fatalf("criterion %s not in trace", code)
	return ""
}

func TestEvaluate_CLABSI_RecognizedPathogenConfirmed(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(domain.CultureResult{
		Specimen: "blood", Organism: "Staphylococcus aureus", Positive: true, CollectedAt: day(2),
	})
	facts := &domain.FactSet{
		Symptoms:               map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource:        domain.TriAbsent,
		ContaminationMentioned: domain.TriAbsent,
		MBIFactors:             domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.92)
	require.NoError(t, err)

	assert.Equal(t, domain.HAIConfirmed, cl.Decision)
	assert.Equal(t, 0.92, cl.Confidence)
	assert.Equal(t, domain.StageTriage, cl.Source)
	assert.Equal(t, clabsiVersion, cl.RuleSetVersion)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CL-ORG"))
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CL-SYMP"))
}

func TestEvaluate_CLABSI_SingleCommensalNeedsReview(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(domain.CultureResult{
		Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2),
	})
	facts := &domain.FactSet{
		Symptoms:               map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource:        domain.TriAbsent,
		ContaminationMentioned: domain.TriUnknown,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.8)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CL-ORG"))
}

func TestEvaluate_CLABSI_SingleCommensalWithContaminationNote(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(domain.CultureResult{
		Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2),
	})
	facts := &domain.FactSet{
		Symptoms:               map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource:        domain.TriAbsent,
		ContaminationMentioned: domain.TriPresent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.85)
	require.NoError(t, err)

	assert.Equal(t, domain.NotHAI, cl.Decision)
	assert.Equal(t, domain.CriterionNotMet, criterionStatus(t, cl, "CL-ORG"))
}

func TestEvaluate_CLABSI_TwoCommensalCulturesMeet(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(1)},
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2)},
	)
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.88)
	require.NoError(t, err)

	assert.Equal(t, domain.HAIConfirmed, cl.Decision)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CL-ORG"))
}

func TestEvaluate_CLABSI_SameDayCommensalCulturesStayUnknown(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2)},
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2).Add(2 * time.Hour)},
	)
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.7)
	require.NoError(t, err)

	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CL-ORG"))
	assert.Equal(t, domain.NeedsReview, cl.Decision)
}

func TestEvaluate_CLABSI_AlternateSourceExcludes(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(domain.CultureResult{
		Specimen: "blood", Organism: "Escherichia coli", Positive: true, CollectedAt: day(2),
	})
	facts := &domain.FactSet{
		AlternateSource:     domain.TriPresent,
		AlternateSourceSite: "intra-abdominal abscess",
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NotHAI, cl.Decision)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CL-ALT"))
}

func TestEvaluate_CAUTI_SilentNotesNeedReview(t *testing.T) {
	// Notes that never mention symptoms must never rule the event out.
	e := testEngine()
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.CAUTI,
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceUrinaryCatheter,
			DeviceDays: 4,
			Cultures: []domain.CultureResult{
				{Specimen: "urine", Organism: "Escherichia coli", ColonyCount: 150_000, Positive: true, CollectedAt: day(3)},
			},
		},
	}
	facts := &domain.FactSet{AlternateSource: domain.TriAbsent}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.6)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CA-SYMP"))
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CA-CX"))
}

func TestEvaluate_CAUTI_LowColonyCountNotHAI(t *testing.T) {
	e := testEngine()
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.CAUTI,
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceUrinaryCatheter,
			DeviceDays: 3,
			Cultures: []domain.CultureResult{
				{Specimen: "urine", Organism: "Escherichia coli", ColonyCount: 10_000, Positive: true, CollectedAt: day(3)},
			},
		},
	}
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NotHAI, cl.Decision)
	assert.Equal(t, domain.CriterionNotMet, criterionStatus(t, cl, "CA-CX"))
}

func TestEvaluate_VAE(t *testing.T) {
	e := testEngine()
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.VAE,
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceVentilator,
			VentCourse: &domain.VentCourse{
				VentDays: 6, BaselineDays: 3, PEEPRise: 4, SustainedDays: 2,
			},
		},
	}
	facts := &domain.FactSet{AlternateSource: domain.TriAbsent}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.8)
	require.NoError(t, err)

	assert.Equal(t, domain.HAIConfirmed, cl.Decision)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "VA-DET"))

	// Short baseline fails the ventilation criterion.
	cand.Context.VentCourse.BaselineDays = 1
	cl, err = e.Evaluate(cand, facts, domain.StageFull, 0.8)
	require.NoError(t, err)
	assert.Equal(t, domain.NotHAI, cl.Decision)
}

func TestEvaluate_SSI_OutsideWindowNotHAI(t *testing.T) {
	e := testEngine()
	performed := day(-40)
	cand := &domain.Candidate{
		ID:          uuid.New(),
		Type:        domain.SSI,
		WindowStart: day(0),
		WindowEnd:   day(5),
		Context: domain.ClinicalContext{
			Procedure: &domain.ProcedureRecord{Code: "COLO", PerformedAt: performed},
		},
	}
	facts := &domain.FactSet{
		Symptoms:          map[string]domain.TriState{domain.SymptomPurulentDrainage: domain.TriPresent},
		AlternateSource:   domain.TriAbsent,
		DeviceSiteFinding: domain.TriPresent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NotHAI, cl.Decision)
	assert.Equal(t, domain.CriterionNotMet, criterionStatus(t, cl, "SS-PROC"))
}

func TestEvaluate_CDI_IncompleteHistoryNeedsReview(t *testing.T) {
	e := testEngine()
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.CDI,
		Context: domain.ClinicalContext{
			CDITest: &domain.CDITestResult{Method: "NAAT", ResultAt: day(3), HistoryComplete: false},
		},
	}
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomDiarrhea: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.85)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CD-INC"))
}

func TestEvaluate_CDI_RecentPriorPositiveExcluded(t *testing.T) {
	e := testEngine()
	prior := day(-5)
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.CDI,
		Context: domain.ClinicalContext{
			CDITest: &domain.CDITestResult{
				Method: "NAAT", ResultAt: day(3), PriorPositiveAt: &prior, HistoryComplete: true,
			},
		},
	}
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomDiarrhea: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NotHAI, cl.Decision)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CD-INC"))
}

func TestEvaluate_CDI_ExclusionMetWithUnknownExclusionNeedsReview(t *testing.T) {
	// A met exclusion only rules the event out when every other exclusion is
	// resolved; silent notes leave CD-ALT unknown, so a reviewer decides.
	e := testEngine()
	prior := day(-5)
	cand := &domain.Candidate{
		ID:   uuid.New(),
		Type: domain.CDI,
		Context: domain.ClinicalContext{
			CDITest: &domain.CDITestResult{
				Method: "NAAT", ResultAt: day(3), PriorPositiveAt: &prior, HistoryComplete: true,
			},
		},
	}
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomDiarrhea: domain.TriPresent},
		AlternateSource: domain.TriUnknown,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageFull, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionMet, criterionStatus(t, cl, "CD-INC"))
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CD-ALT"))
}

func TestEvaluate_CAUTI_MissingColonyCountNeedsReview(t *testing.T) {
	// A culture reported without a colony count is missing data, not a
	// sub-threshold result.
	e := testEngine()
	cand := &domain.Candidate{
		ID:            uuid.New(),
		Type:          domain.CAUTI,
		PartialData:   true,
		MissingFields: []string{"colony_count"},
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceUrinaryCatheter,
			DeviceDays: 4,
			Cultures: []domain.CultureResult{
				{Specimen: "urine", Organism: "Escherichia coli", ColonyCount: 0, Positive: true, CollectedAt: day(3)},
			},
		},
	}
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CA-CX"))
}

func TestEvaluate_PartialDataPropagatesUnknown(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(domain.CultureResult{
		Specimen: "blood", Organism: "Staphylococcus aureus", Positive: true, CollectedAt: day(2),
	})
	cand.PartialData = true
	cand.MissingFields = []string{"device_days"}
	facts := &domain.FactSet{AlternateSource: domain.TriAbsent}

	cl, err := e.Evaluate(cand, facts, domain.StageTriage, 0.9)
	require.NoError(t, err)

	assert.Equal(t, domain.NeedsReview, cl.Decision)
	assert.Equal(t, domain.CriterionUnknown, criterionStatus(t, cl, "CL-DEV"))
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := testEngine()
	cand := clabsiCandidate(
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(1)},
		domain.CultureResult{Specimen: "blood", Organism: "Staphylococcus epidermidis", Positive: true, CollectedAt: day(2)},
	)
	facts := &domain.FactSet{
		Symptoms:        map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		AlternateSource: domain.TriAbsent,
	}

	first, err := e.Evaluate(cand, facts, domain.StageFull, 0.75)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		next, err := e.Evaluate(cand, facts, domain.StageFull, 0.75)
		require.NoError(t, err)
		assert.Equal(t, first.Decision, next.Decision)
		assert.Equal(t, first.Criteria, next.Criteria)
	}
}

func TestEvaluate_UnknownHAITypeFails(t *testing.T) {
	e := testEngine()
	cand := &domain.Candidate{ID: uuid.New(), Type: domain.HAIType("VAP")}
	_, err := e.Evaluate(cand, &domain.FactSet{}, domain.StageTriage, 0.5)
	assert.Error(t, err)
}
