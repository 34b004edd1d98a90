package repository

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
)

func openTestStore(t *testing.T) JobStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ReconciliationJob{}, &models.ReconciliationResult{}))
	return NewJobStore(db, logger.NewNop())
}

func newJob(projectID uuid.UUID) *models.ReconciliationJob {
	return &models.ReconciliationJob{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      "store test job",
		Status:    models.JobStatusPending,
		CreatedBy: uuid.New(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, job.SetRules([]models.MatchingRule{
		{Field: "email", RuleType: models.RuleTypeFuzzy, Weight: 0.5, Threshold: 0.8},
	}))
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, models.JobStatusPending, got.Status)

	rules, err := got.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "email", rules[0].Field)
	assert.Equal(t, models.RuleTypeFuzzy, rules[0].RuleType)
}

func TestGetJobNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetJob(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListJobsByProjectNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	projectID := uuid.New()

	older := newJob(projectID)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newJob(projectID)
	other := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, older))
	require.NoError(t, store.CreateJob(ctx, newer))
	require.NoError(t, store.CreateJob(ctx, other))

	jobs, err := store.ListJobsByProject(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)
	assert.Equal(t, older.ID, jobs[1].ID)
}

func TestUpdateJobFieldsUnlessStatusGuards(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	changed, err := store.UpdateJobFieldsUnlessStatus(ctx, job.ID, models.TerminalJobStatuses, map[string]interface{}{
		"status": models.JobStatusRunning,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpdateJobFieldsUnlessStatus(ctx, job.ID, models.TerminalJobStatuses, map[string]interface{}{
		"status": models.JobStatusCompleted,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// Terminal rows stay put: the first terminal writer wins.
	changed, err = store.UpdateJobFieldsUnlessStatus(ctx, job.ID, models.TerminalJobStatuses, map[string]interface{}{
		"status": models.JobStatusCancelled,
	})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestInsertAndListResultsPagination(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	base := time.Now().Add(-time.Minute)
	var results []*models.ReconciliationResult
	for i := 0; i < 25; i++ {
		aID := fmt.Sprintf("a%02d", i)
		results = append(results, &models.ReconciliationResult{
			RecordAID: &aID,
			Status:    models.ResultStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, store.InsertResults(ctx, job.ID, results))

	// Inserted rows got ids and the parent job id.
	for _, r := range results {
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, job.ID, r.JobID)
	}

	pageOne, err := store.ListResults(ctx, job.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, pageOne, 10)
	assert.Equal(t, "a00", *pageOne[0].RecordAID)

	pageThree, err := store.ListResults(ctx, job.ID, 3, 10)
	require.NoError(t, err)
	require.Len(t, pageThree, 5)
	assert.Equal(t, "a24", *pageThree[4].RecordAID)

	count, err := store.CountResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)
}

func TestListResultsClampsPageSize(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	var results []*models.ReconciliationResult
	for i := 0; i < MaxResultsPerPage+10; i++ {
		aID := fmt.Sprintf("a%d", i)
		results = append(results, &models.ReconciliationResult{
			RecordAID: &aID,
			Status:    models.ResultStatusPending,
		})
	}
	require.NoError(t, store.InsertResults(ctx, job.ID, results))

	page, err := store.ListResults(ctx, job.ID, 1, 10000)
	require.NoError(t, err)
	assert.Len(t, page, MaxResultsPerPage)

	defaulted, err := store.ListResults(ctx, job.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, 20)
}

func TestCountResultsByStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	statuses := []string{
		models.ResultStatusPending,
		models.ResultStatusPending,
		models.ResultStatusApproved,
		models.ResultStatusRejected,
	}
	var results []*models.ReconciliationResult
	for i, st := range statuses {
		aID := fmt.Sprintf("a%d", i)
		results = append(results, &models.ReconciliationResult{RecordAID: &aID, Status: st})
	}
	require.NoError(t, store.InsertResults(ctx, job.ID, results))

	pending, err := store.CountResultsByStatus(ctx, job.ID, models.ResultStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	approved, err := store.CountResultsByStatus(ctx, job.ID, models.ResultStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, int64(1), approved)
}

func TestDeleteJobCascade(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))
	aID := "a1"
	require.NoError(t, store.InsertResults(ctx, job.ID, []*models.ReconciliationResult{
		{RecordAID: &aID, Status: models.ResultStatusPending},
	}))

	require.NoError(t, store.DeleteJobCascade(ctx, job.ID))

	_, err := store.GetJob(ctx, job.ID)
	assert.True(t, apperr.IsNotFound(err))
	count, err := store.CountResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApprovedRecordConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	a1, b1 := "a1", "b1"
	approved := &models.ReconciliationResult{
		RecordAID: &a1, RecordBID: &b1,
		Status: models.ResultStatusApproved,
	}
	require.NoError(t, store.InsertResults(ctx, job.ID, []*models.ReconciliationResult{approved}))

	b2 := "b2"
	conflict, err := store.ApprovedRecordConflict(ctx, job.ID, &a1, &b2, uuid.New())
	require.NoError(t, err)
	assert.True(t, conflict, "record a1 already has an approved match")

	a2 := "a2"
	conflict, err = store.ApprovedRecordConflict(ctx, job.ID, &a2, &b1, uuid.New())
	require.NoError(t, err)
	assert.True(t, conflict, "record b1 already has an approved match")

	conflict, err = store.ApprovedRecordConflict(ctx, job.ID, &a2, &b2, uuid.New())
	require.NoError(t, err)
	assert.False(t, conflict)

	// The result being re-approved never conflicts with itself.
	conflict, err = store.ApprovedRecordConflict(ctx, job.ID, &a1, &b1, approved.ID)
	require.NoError(t, err)
	assert.False(t, conflict)

	// Unmatched singles have nothing to conflict over.
	conflict, err = store.ApprovedRecordConflict(ctx, job.ID, nil, nil, uuid.New())
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestRunInTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	sentinel := apperr.Validationf("abort")
	err := store.RunInTransaction(ctx, func(tx JobStore) error {
		aID := "a1"
		if err := tx.InsertResults(ctx, job.ID, []*models.ReconciliationResult{
			{RecordAID: &aID, Status: models.ResultStatusPending},
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	count, err := store.CountResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "rollback discards the insert")
}

func TestRunInTransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	err := store.RunInTransaction(ctx, func(tx JobStore) error {
		aID := "a1"
		return tx.InsertResults(ctx, job.ID, []*models.ReconciliationResult{
			{RecordAID: &aID, Status: models.ResultStatusPending},
		})
	})
	require.NoError(t, err)

	count, err := store.CountResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
