package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hai-surveillance-server/internal/database"
	"github.com/hai-surveillance-server/internal/domain"
)

func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed store tests in short mode")
	}

	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "starting PostgreSQL container")

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, &domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        testPassword,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}, logger)
	require.NoError(t, err)

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	runner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up())

	t.Cleanup(func() {
		runner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	return NewStore(db.Pool, logger)
}

func testCandidate() *domain.Candidate {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Candidate{
		ID:          uuid.New(),
		Type:        domain.CLABSI,
		PatientID:   "P001",
		EncounterID: "E001",
		Triggers: []domain.TriggerEvidence{{
			Description: "positive blood culture with central line in place 3 days",
			ObservedAt:  start.AddDate(0, 0, 2),
		}},
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 5),
		Context: domain.ClinicalContext{
			DeviceKind: domain.DeviceCentralLine,
			DeviceDays: 3,
			Cultures: []domain.CultureResult{{
				Specimen: "blood", Organism: "Escherichia coli", Positive: true,
				CollectedAt: start.AddDate(0, 0, 2),
			}},
		},
		CreatedAt: start,
	}
}

func TestStore_SaveCandidateRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	got, err := s.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Type, got.Type)
	assert.Equal(t, c.PatientID, got.PatientID)
	require.Len(t, got.Triggers, 1)
	assert.Equal(t, c.Triggers[0].Description, got.Triggers[0].Description)
	assert.Equal(t, domain.DeviceCentralLine, got.Context.DeviceKind)
	require.Len(t, got.Context.Cultures, 1)
	assert.Equal(t, "Escherichia coli", got.Context.Cultures[0].Organism)

	// Saving opens the workflow at version 1.
	w, err := s.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, w.State)
	assert.Equal(t, int64(1), w.Version)
	assert.Equal(t, domain.ExtractionNotStarted, w.Extraction)

	_, err = s.GetCandidate(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_TransitionWorkflowCAS(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	w, err := s.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	stale := *w

	w.State = domain.StateExtracting
	entry := &domain.AuditEntry{
		ID: uuid.New(), CandidateID: c.ID, Actor: "system",
		FromState: domain.StateCreated, ToState: domain.StateExtracting,
		At: time.Now().UTC(),
	}
	require.NoError(t, s.TransitionWorkflow(ctx, w, entry))
	assert.Equal(t, int64(2), w.Version)

	// A writer holding the old version loses.
	stale.State = domain.StateClassified
	err = s.TransitionWorkflow(ctx, &stale, &domain.AuditEntry{
		ID: uuid.New(), CandidateID: c.ID, Actor: "system",
		FromState: domain.StateCreated, ToState: domain.StateClassified,
		At: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	trail, err := s.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.StateExtracting, trail[0].ToState)
}

func TestStore_AppendTriggerExtendsWindow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	later := c.WindowEnd.AddDate(0, 0, 2)
	trigger := domain.TriggerEvidence{Description: "repeat positive culture", ObservedAt: later}
	require.NoError(t, s.AppendTrigger(ctx, c.ID, trigger, later))

	got, err := s.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Triggers, 2)
	assert.True(t, got.WindowEnd.Equal(later))

	// Retired candidates refuse new evidence.
	require.NoError(t, s.RetireCandidate(ctx, c.ID))
	err = s.AppendTrigger(ctx, c.ID, trigger, later)
	assert.ErrorIs(t, err, domain.ErrCandidateRetired)
}

func TestStore_ExtractionStageUnique(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	r := &domain.ExtractionResult{
		ID:          uuid.New(),
		CandidateID: c.ID,
		Stage:       domain.StageTriage,
		Facts: domain.FactSet{
			Symptoms: map[string]domain.TriState{domain.SymptomFever: domain.TriPresent},
		},
		Confidence:         0.9,
		Model:              "triage-model",
		Latency:            1500 * time.Millisecond,
		EscalationTriggers: []string{"low_confidence"},
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, s.SaveExtraction(ctx, r))

	dup := *r
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.SaveExtraction(ctx, &dup), domain.ErrDuplicateStage)

	results, err := s.GetExtractions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.TriPresent, results[0].Facts.Symptom(domain.SymptomFever))
	assert.Equal(t, 1500*time.Millisecond, results[0].Latency)
	assert.Equal(t, []string{"low_confidence"}, results[0].EscalationTriggers)
}

func TestStore_LatestClassificationSkipsSuperseded(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	triage := &domain.Classification{
		ID:          uuid.New(),
		CandidateID: c.ID,
		Decision:    domain.NeedsReview,
		Criteria: []domain.CriterionResult{{
			Code: "CL-DEV", Status: domain.CriterionMet, Required: true,
		}},
		Source:         domain.StageTriage,
		RuleSetVersion: "clabsi-2026.01",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.SaveClassification(ctx, triage))

	full := &domain.Classification{
		ID:             uuid.New(),
		CandidateID:    c.ID,
		Decision:       domain.HAIConfirmed,
		Source:         domain.StageFull,
		RuleSetVersion: "clabsi-2026.01",
		Supersedes:     &triage.ID,
		CreatedAt:      time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, s.SaveClassification(ctx, full))

	latest, err := s.LatestClassification(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, full.ID, latest.ID)
	require.NotNil(t, latest.Supersedes)
	assert.Equal(t, triage.ID, *latest.Supersedes)

	history, err := s.Classifications(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, triage.ID, history[0].ID)
	require.Len(t, history[0].Criteria, 1)
	assert.Equal(t, "CL-DEV", history[0].Criteria[0].Code)
}

func TestStore_ReviewDecisionAndQueue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := testCandidate()
	require.NoError(t, s.SaveCandidate(ctx, c))

	second := testCandidate()
	second.ID = uuid.New()
	second.PatientID = "P002"
	second.WindowStart = c.WindowStart.AddDate(0, 0, -3)
	second.WindowEnd = c.WindowEnd.AddDate(0, 0, -3)
	require.NoError(t, s.SaveCandidate(ctx, second))

	queue, err := s.Queue(ctx, []domain.ReviewState{domain.StateCreated}, 10)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, second.ID, queue[0].ID, "earlier window comes first")

	d := &domain.ReviewDecision{
		ID:          uuid.New(),
		CandidateID: c.ID,
		Reviewer:    "ip-nurse-1",
		Decision:    domain.HAIConfirmed,
		Agreement:   true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveReviewDecision(ctx, d))

	got, err := s.GetReviewDecision(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ip-nurse-1", got.Reviewer)
	assert.True(t, got.Agreement)

	_, err = s.GetReviewDecision(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
