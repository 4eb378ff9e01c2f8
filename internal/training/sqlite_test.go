package training

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai-surveillance-server/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "training.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func example(candidateID uuid.UUID) *domain.TrainingExample {
	return &domain.TrainingExample{
		CandidateID: candidateID,
		Type:        domain.CLABSI,
		Review: domain.ReviewDecision{
			ID:          uuid.New(),
			CandidateID: candidateID,
			Reviewer:    "dr.may",
			Decision:    domain.HAIConfirmed,
			Agreement:   true,
			CreatedAt:   time.Now().UTC(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteStore_SaveExactlyOnce(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	id := uuid.New()

	saved, err := s.Save(ctx, example(id))
	require.NoError(t, err)
	assert.True(t, saved)

	// Same candidate again is a silent no-op.
	saved, err = s.Save(ctx, example(id))
	require.NoError(t, err)
	assert.False(t, saved)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first := example(uuid.New())
	second := example(uuid.New())
	second.Type = domain.CDI

	_, err := s.Save(ctx, first)
	require.NoError(t, err)
	_, err = s.Save(ctx, second)
	require.NoError(t, err)

	list, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.CandidateID, list[0].CandidateID)
	assert.Equal(t, domain.CDI, list[0].Type)
	assert.Equal(t, first.CandidateID, list[1].CandidateID)
}

func TestSQLiteStore_StatsAccumulate(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddStats(ctx, Stats{
		Total:           1,
		Escalated:       1,
		Triggers:        map[string]int64{"low_confidence": 1},
		TotalByType:     map[string]int64{"CLABSI": 1},
		EscalatedByType: map[string]int64{"CLABSI": 1},
	}))
	require.NoError(t, s.AddStats(ctx, Stats{
		Total:           1,
		TriageAgreement: 1,
		Triggers:        map[string]int64{"low_confidence": 1, "partial_data": 1},
		TotalByType:     map[string]int64{"CAUTI": 1},
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Escalated)
	assert.Equal(t, int64(1), stats.TriageAgreement)
	assert.Equal(t, int64(2), stats.Triggers["low_confidence"])
	assert.Equal(t, int64(1), stats.Triggers["partial_data"])
	assert.Equal(t, int64(1), stats.TotalByType["CLABSI"])
	assert.Equal(t, int64(1), stats.TotalByType["CAUTI"])
	assert.Equal(t, int64(1), stats.EscalatedByType["CLABSI"])
	assert.Zero(t, stats.EscalatedByType["CAUTI"])
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, example(uuid.New()))
	require.NoError(t, err)
	require.NoError(t, s.AddStats(ctx, Stats{Total: 1}))

	var buf bytes.Buffer
	require.NoError(t, s.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Examples, 1)
	assert.Equal(t, int64(1), export.Stats.Total)
}
