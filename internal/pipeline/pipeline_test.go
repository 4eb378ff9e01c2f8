package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai-surveillance-server/internal/detector"
	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/extract"
	"github.com/hai-surveillance-server/internal/review"
	"github.com/hai-surveillance-server/internal/rules"
	"github.com/hai-surveillance-server/internal/store"
	"github.com/hai-surveillance-server/pkg/inference"
)

const (
	confidentFacts = `{"symptoms": {"fever": "present"}, "alternate_source": "absent", "contamination_mentioned": "absent", "doc_quality": "good", "confidence": 0.92}`
	hesitantFacts  = `{"symptoms": {"fever": "present"}, "alternate_source": "absent", "contamination_mentioned": "absent", "doc_quality": "good", "confidence": 0.45}`
)

type fakeSource struct {
	notes []domain.NoteRecord
}

func (f *fakeSource) Events(_ context.Context, _, _ string, _, _ time.Time) ([]domain.StructuredEvent, error) {
	return nil, nil
}

func (f *fakeSource) Notes(_ context.Context, _, _ string, _, _ time.Time) ([]domain.NoteRecord, error) {
	return f.notes, nil
}

type harness struct {
	pipeline *Pipeline
	store    *store.Memory
	fake     *inference.Fake
}

func newHarness(t *testing.T, fake *inference.Fake, config Config, extractConfig extract.Config) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	mem := store.NewMemory()
	det, err := detector.New(logger, mem)
	require.NoError(t, err)

	if extractConfig.TriageModel == "" {
		extractConfig.TriageModel = "triage-model"
	}
	if extractConfig.FullModel == "" {
		extractConfig.FullModel = "full-model"
	}

	source := &fakeSource{notes: []domain.NoteRecord{{
		ID:        "n1",
		Type:      domain.NoteProgress,
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Text:      "febrile overnight, line site clean",
	}}}

	p := New(
		logger,
		mem,
		source,
		det,
		extract.New(logger, fake, extractConfig),
		rules.NewEngine(logger),
		review.NewManager(logger, mem),
		extract.DefaultEscalationPolicy(),
		config,
	)
	return &harness{pipeline: p, store: mem, fake: fake}
}

func saveCandidate(t *testing.T, mem *store.Memory) *domain.Candidate {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &domain.Candidate{
		ID:          uuid.New(),
		Type:        domain.CLABSI,
		PatientID:   "P001",
		EncounterID: "E001",
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 5),
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceCentralLine,
			DeviceDays: 3,
			Cultures: []domain.CultureResult{{
				Specimen: "blood", Organism: "Staphylococcus aureus", Positive: true,
				CollectedAt: start.AddDate(0, 0, 2),
			}},
		},
		CreatedAt: start,
	}
	require.NoError(t, mem.SaveCandidate(context.Background(), c))
	return c
}

func TestProcessCandidate_FastPath(t *testing.T) {
	fake := &inference.Fake{
		Handler: func(req *inference.GenerateRequest) (string, error) {
			require.Equal(t, "triage-model", req.Model)
			return confidentFacts, nil
		},
	}
	h := newHarness(t, fake, Config{}, extract.Config{})
	c := saveCandidate(t, h.store)
	ctx := context.Background()

	h.pipeline.ProcessCandidate(ctx, c)

	w, err := h.store.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClassified, w.State)
	assert.False(t, w.Undetermined)
	assert.Equal(t, domain.ExtractionFastPathDone, w.Extraction)

	results, err := h.store.GetExtractions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StageTriage, results[0].Stage)
	assert.Empty(t, results[0].EscalationTriggers)

	cl, err := h.store.LatestClassification(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HAIConfirmed, cl.Decision)
	assert.Equal(t, domain.StageTriage, cl.Source)
	assert.Len(t, fake.Calls(), 1)
}

func TestProcessCandidate_EscalationClassifiesFromFullOnly(t *testing.T) {
	fake := &inference.Fake{
		Handler: func(req *inference.GenerateRequest) (string, error) {
			if req.Model == "triage-model" {
				return hesitantFacts, nil
			}
			return confidentFacts, nil
		},
	}
	h := newHarness(t, fake, Config{}, extract.Config{})
	c := saveCandidate(t, h.store)
	ctx := context.Background()

	h.pipeline.ProcessCandidate(ctx, c)

	results, err := h.store.GetExtractions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].EscalationTriggers, extract.TriggerLowConfidence)

	// The rules engine sees one fact set; the full pass replaces triage
	// wholesale, so only a single classification ever exists.
	history, err := h.store.Classifications(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StageFull, history[0].Source)
	assert.Nil(t, history[0].Supersedes)

	latest, err := h.store.LatestClassification(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, latest.ID)

	w, err := h.store.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClassified, w.State)
	assert.False(t, w.Undetermined)
	assert.Equal(t, domain.ExtractionFullyExtracted, w.Extraction)
}

func TestProcessCandidate_AlternateSourceEscalatesThenClears(t *testing.T) {
	// Confident triage that mentions an alternate infection source must still
	// escalate; the full pass confirming the source yields a single NOT_HAI.
	alternate := `{"symptoms": {"fever": "present"}, "alternate_source": "present", "contamination_mentioned": "absent", "doc_quality": "good", "confidence": 0.9}`
	fake := &inference.Fake{
		Handler: func(req *inference.GenerateRequest) (string, error) {
			return alternate, nil
		},
	}
	h := newHarness(t, fake, Config{}, extract.Config{})
	c := saveCandidate(t, h.store)
	ctx := context.Background()

	h.pipeline.ProcessCandidate(ctx, c)

	results, err := h.store.GetExtractions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{extract.TriggerAlternateSource}, results[0].EscalationTriggers)

	history, err := h.store.Classifications(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.NotHAI, history[0].Decision)
	assert.Equal(t, domain.StageFull, history[0].Source)
}

func TestProcessCandidate_TimeoutParksForReview(t *testing.T) {
	fake := &inference.Fake{
		Latency: 200 * time.Millisecond,
		Handler: func(_ *inference.GenerateRequest) (string, error) { return confidentFacts, nil },
	}
	h := newHarness(t, fake, Config{}, extract.Config{TriageTimeout: 20 * time.Millisecond})
	c := saveCandidate(t, h.store)
	ctx := context.Background()

	h.pipeline.ProcessCandidate(ctx, c)

	w, err := h.store.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClassified, w.State)
	assert.True(t, w.Undetermined)
	assert.True(t, strings.Contains(w.UndeterminedReason, domain.ReasonTimeout))

	// No classification was recorded, yet the candidate is reviewable.
	_, err = h.store.LatestClassification(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	queue, err := h.store.Queue(ctx, []domain.ReviewState{domain.StateClassified}, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, c.ID, queue[0].ID)
}

func TestProcessCandidate_FullFailureLeavesNoClassification(t *testing.T) {
	fake := &inference.Fake{
		Handler: func(req *inference.GenerateRequest) (string, error) {
			if req.Model == "triage-model" {
				return hesitantFacts, nil
			}
			return "garbage output", nil
		},
	}
	h := newHarness(t, fake, Config{}, extract.Config{})
	c := saveCandidate(t, h.store)
	ctx := context.Background()

	h.pipeline.ProcessCandidate(ctx, c)

	w, err := h.store.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClassified, w.State)
	assert.True(t, w.Undetermined)
	assert.Equal(t, domain.ExtractionEscalated, w.Extraction)

	// An escalated candidate whose full pass failed never reaches the rules
	// engine; the triage facts are not a fallback.
	_, err = h.store.LatestClassification(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessCandidate_FullStageSerialized(t *testing.T) {
	var inFlight, maxInFlight int64
	fake := &inference.Fake{
		Handler: func(req *inference.GenerateRequest) (string, error) {
			if req.Model == "triage-model" {
				return hesitantFacts, nil
			}
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxInFlight)
				if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return confidentFacts, nil
		},
	}
	h := newHarness(t, fake, Config{Concurrency: 4, FullConcurrency: 1}, extract.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		c := saveCandidate(t, h.store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.ProcessCandidate(context.Background(), c)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInFlight))
}

func TestProcessWindow_EndToEnd(t *testing.T) {
	fake := &inference.Fake{
		Handler: func(_ *inference.GenerateRequest) (string, error) { return confidentFacts, nil },
	}
	h := newHarness(t, fake, Config{}, extract.Config{})

	day := func(d int) time.Time {
		return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).AddDate(0, 0, d)
	}
	w := &domain.PatientWindow{
		PatientID:   "P001",
		EncounterID: "E001",
		Start:       day(-14),
		End:         day(14),
		Events: []domain.StructuredEvent{
			{Type: domain.EventDeviceDay, Timestamp: day(0), Value: string(domain.DeviceCentralLine)},
			{Type: domain.EventDeviceDay, Timestamp: day(1), Value: string(domain.DeviceCentralLine)},
			{Type: domain.EventDeviceDay, Timestamp: day(2), Value: string(domain.DeviceCentralLine)},
			{Type: domain.EventCulture, Timestamp: day(2), Attrs: map[string]string{
				domain.AttrSpecimen: "blood",
				domain.AttrOrganism: "Staphylococcus aureus",
				domain.AttrResult:   "positive",
			}},
		},
	}

	candidates, err := h.pipeline.ProcessWindow(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	wf, err := h.store.GetWorkflow(context.Background(), candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClassified, wf.State)

	cl, err := h.store.LatestClassification(context.Background(), candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HAIConfirmed, cl.Decision)
}
