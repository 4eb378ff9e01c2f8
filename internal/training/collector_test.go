package training

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/store"
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

func setupCollector(t *testing.T) (*Collector, *SQLiteStore, *store.Memory, *domain.Candidate) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ts, err := NewSQLiteStore(filepath.Join(t.TempDir(), "training.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })

	mem := store.NewMemory()
	source := &fakeSource{notes: []domain.NoteRecord{
		{ID: "n1", Type: domain.NoteProgress, Text: "febrile overnight", Timestamp: time.Now().UTC()},
	}}
	collector := NewCollector(logger, ts, mem, source)
	collector.retryDelay = time.Millisecond

	c := &domain.Candidate{
		ID:          uuid.New(),
		Type:        domain.CLABSI,
		PatientID:   "P001",
		EncounterID: "E001",
		WindowStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	require.NoError(t, mem.SaveCandidate(ctx, c))
	require.NoError(t, mem.SaveExtraction(ctx, &domain.ExtractionResult{
		ID: uuid.New(), CandidateID: c.ID, Stage: domain.StageTriage,
		Confidence: 0.6, EscalationTriggers: []string{"low_confidence"},
	}))
	require.NoError(t, mem.SaveExtraction(ctx, &domain.ExtractionResult{
		ID: uuid.New(), CandidateID: c.ID, Stage: domain.StageFull, Confidence: 0.9,
	}))
	require.NoError(t, mem.SaveClassification(ctx, &domain.Classification{
		ID: uuid.New(), CandidateID: c.ID, Decision: domain.HAIConfirmed, Source: domain.StageTriage,
	}))
	require.NoError(t, mem.SaveReviewDecision(ctx, &domain.ReviewDecision{
		ID: uuid.New(), CandidateID: c.ID, Reviewer: "dr.may",
		Decision: domain.HAIConfirmed, Agreement: true,
	}))
	return collector, ts, mem, c
}

func TestCollector_CollectsOnResolve(t *testing.T) {
	collector, ts, _, c := setupCollector(t)

	collector.OnTransition(context.Background(), c, &domain.Workflow{
		CandidateID: c.ID, State: domain.StateResolved,
	})
	collector.Wait()

	ctx := context.Background()
	exists, err := ts.Exists(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := ts.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].CandidateID)
	assert.NotNil(t, list[0].Triage)
	assert.NotNil(t, list[0].Full)
	require.Len(t, list[0].Notes, 1)
	assert.Equal(t, "dr.may", list[0].Review.Reviewer)

	stats, err := ts.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Escalated)
	assert.Equal(t, int64(1), stats.TriageAgreement)
	assert.Equal(t, int64(1), stats.Triggers["low_confidence"])
	assert.Equal(t, int64(1), stats.TotalByType[string(domain.CLABSI)])
	assert.Equal(t, int64(1), stats.EscalatedByType[string(domain.CLABSI)])
}

func TestCollector_ExactlyOnceOnRepeatedResolve(t *testing.T) {
	collector, ts, _, c := setupCollector(t)
	w := &domain.Workflow{CandidateID: c.ID, State: domain.StateResolved}

	for i := 0; i < 3; i++ {
		collector.OnTransition(context.Background(), c, w)
	}
	collector.Wait()

	count, err := ts.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stats, err := ts.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestCollector_IgnoresNonResolvedTransitions(t *testing.T) {
	collector, ts, _, c := setupCollector(t)

	collector.OnTransition(context.Background(), c, &domain.Workflow{
		CandidateID: c.ID, State: domain.StateClassified,
	})
	collector.Wait()

	count, err := ts.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
