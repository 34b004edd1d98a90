package resolution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
)

func openTestStore(t *testing.T) repository.JobStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ReconciliationJob{}, &models.ReconciliationResult{}))
	return repository.NewJobStore(db, logger.NewNop())
}

func seedJob(t *testing.T, store repository.JobStore) uuid.UUID {
	t.Helper()
	job := &models.ReconciliationJob{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Name:      "review job",
		Status:    models.JobStatusCompleted,
		CreatedBy: uuid.New(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job.ID
}

func seedPair(t *testing.T, store repository.JobStore, jobID uuid.UUID, aID, bID string) uuid.UUID {
	t.Helper()
	score := 0.9
	result := &models.ReconciliationResult{
		RecordAID:       &aID,
		RecordBID:       &bID,
		MatchType:       models.MatchTypeFuzzy,
		ConfidenceScore: &score,
		Status:          models.ResultStatusPending,
	}
	require.NoError(t, store.InsertResults(context.Background(), jobID, []*models.ReconciliationResult{result}))
	return result.ID
}

func TestBatchResolvePartialSuccess(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	jobID := seedJob(t, store)
	resultID := seedPair(t, store, jobID, "a1", "b1")
	reviewer := uuid.New()

	summary, err := transactor.BatchResolve(ctx, []BatchItem{
		{ResultID: resultID.String(), Action: ActionApprove},
		{ResultID: "missing", Action: ActionReject},
	}, &reviewer)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ApprovedCount)
	assert.Equal(t, 0, summary.RejectedCount)
	assert.Equal(t, []string{"Match missing not found"}, summary.Errors)

	// The valid item committed despite its sibling's error.
	got, err := store.GetResult(ctx, resultID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusApproved, got.Status)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, reviewer, *got.ReviewedBy)
}

func TestBatchResolveInvalidAction(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	jobID := seedJob(t, store)
	resultID := seedPair(t, store, jobID, "a1", "b1")

	summary, err := transactor.BatchResolve(ctx, []BatchItem{
		{ResultID: resultID.String(), Action: "escalate"},
	}, nil)
	require.NoError(t, err)

	assert.Zero(t, summary.ApprovedCount)
	assert.Zero(t, summary.RejectedCount)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "invalid action")

	got, err := store.GetResult(ctx, resultID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusPending, got.Status)
}

func TestBatchResolveUnknownResultID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())
	seedJob(t, store)

	ghost := uuid.New()
	summary, err := transactor.BatchResolve(ctx, []BatchItem{
		{ResultID: ghost.String(), Action: ActionApprove},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{fmt.Sprintf("Match %s not found", ghost)}, summary.Errors)
}

func TestBatchResolveApprovalConflict(t *testing.T) {
	// Approving a second pair that reuses an already-approved record must be
	// reported as an item error, keeping approvals injective per record.
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	jobID := seedJob(t, store)
	first := seedPair(t, store, jobID, "a1", "b1")
	second := seedPair(t, store, jobID, "a1", "b2")

	summary, err := transactor.BatchResolve(ctx, []BatchItem{
		{ResultID: first.String(), Action: ActionApprove},
		{ResultID: second.String(), Action: ActionApprove},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ApprovedCount)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "already approved")

	got, err := store.GetResult(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusPending, got.Status)
}

func TestBatchResolveEmptyInput(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	summary, err := transactor.BatchResolve(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.ApprovedCount)
	assert.Zero(t, summary.RejectedCount)
	assert.Empty(t, summary.Errors)
}

func TestBatchResolveNotes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	jobID := seedJob(t, store)
	resultID := seedPair(t, store, jobID, "a1", "b1")

	_, err := transactor.BatchResolve(ctx, []BatchItem{
		{ResultID: resultID.String(), Action: ActionReject, Notes: "duplicate entry"},
	}, nil)
	require.NoError(t, err)

	got, err := store.GetResult(ctx, resultID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusRejected, got.Status)
	assert.Equal(t, "duplicate entry", got.Notes)
}

func TestResolveOne(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	transactor := NewTransactor(store, logger.NewNop())

	jobID := seedJob(t, store)
	reviewer := uuid.New()

	t.Run("approve", func(t *testing.T) {
		resultID := seedPair(t, store, jobID, "c1", "d1")
		score := 0.95

		got, err := transactor.ResolveOne(ctx, resultID, models.ResultStatusApproved, &score, &reviewer, "looks right")
		require.NoError(t, err)
		assert.Equal(t, models.ResultStatusApproved, got.Status)
		require.NotNil(t, got.ConfidenceScore)
		assert.InDelta(t, 0.95, *got.ConfidenceScore, 1e-9)
		assert.Equal(t, "looks right", got.Notes)
		require.NotNil(t, got.ReviewedBy)
		assert.Equal(t, reviewer, *got.ReviewedBy)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := transactor.ResolveOne(ctx, uuid.New(), models.ResultStatusRejected, nil, nil, "")
		require.Error(t, err)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("invalid status", func(t *testing.T) {
		resultID := seedPair(t, store, jobID, "c2", "d2")
		_, err := transactor.ResolveOne(ctx, resultID, "maybe", nil, nil, "")
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("score out of range", func(t *testing.T) {
		resultID := seedPair(t, store, jobID, "c3", "d3")
		bad := 1.5
		_, err := transactor.ResolveOne(ctx, resultID, models.ResultStatusApproved, &bad, nil, "")
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("approval conflict", func(t *testing.T) {
		first := seedPair(t, store, jobID, "e1", "f1")
		second := seedPair(t, store, jobID, "e1", "f2")
		_, err := transactor.ResolveOne(ctx, first, models.ResultStatusApproved, nil, nil, "")
		require.NoError(t, err)

		_, err = transactor.ResolveOne(ctx, second, models.ResultStatusApproved, nil, nil, "")
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))
	})
}
