package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
)

// MaxResultsPerPage caps result pagination.
const MaxResultsPerPage = 100

// JobStore is the persistence boundary for jobs and their results. The
// scheduler, transactor and handlers only ever talk to this interface.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ReconciliationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
	ListJobsByProject(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error)
	UpdateJobFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateJobFieldsUnlessStatus applies updates only when the job is not in
	// one of the disallowed statuses. Reports whether a row changed.
	UpdateJobFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error)
	DeleteJobCascade(ctx context.Context, id uuid.UUID) error

	InsertResults(ctx context.Context, jobID uuid.UUID, results []*models.ReconciliationResult) error
	GetResult(ctx context.Context, id uuid.UUID) (*models.ReconciliationResult, error)
	UpdateResultFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (int64, error)
	ListResults(ctx context.Context, jobID uuid.UUID, page, perPage int) ([]models.ReconciliationResult, error)
	CountResults(ctx context.Context, jobID uuid.UUID) (int64, error)
	CountResultsByStatus(ctx context.Context, jobID uuid.UUID, status string) (int64, error)
	// ApprovedRecordConflict reports whether another approved result in the
	// same job already claims either record side.
	ApprovedRecordConflict(ctx context.Context, jobID uuid.UUID, recordAID, recordBID *string, excludeResultID uuid.UUID) (bool, error)

	// RunInTransaction runs fn against a store bound to a single transaction.
	// fn returning an error rolls everything back.
	RunInTransaction(ctx context.Context, fn func(JobStore) error) error
}

type gormJobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobStore(db *gorm.DB, baseLog *logger.Logger) JobStore {
	return &gormJobStore{
		db:  db,
		log: baseLog.With("repo", "JobStore"),
	}
}

func (s *gormJobStore) CreateJob(ctx context.Context, job *models.ReconciliationJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return apperr.Database("create job", err)
	}
	return nil
}

func (s *gormJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	var job models.ReconciliationJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("reconciliation job %s not found", id)
	}
	if err != nil {
		return nil, apperr.Database("get job", err)
	}
	return &job, nil
}

func (s *gormJobStore) ListJobsByProject(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error) {
	var jobs []models.ReconciliationJob
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, apperr.Database("list jobs by project", err)
	}
	return jobs, nil
}

func (s *gormJobStore) UpdateJobFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	err := s.db.WithContext(ctx).
		Model(&models.ReconciliationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return apperr.Database("update job", err)
	}
	return nil
}

func (s *gormJobStore) UpdateJobFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := s.db.WithContext(ctx).
		Model(&models.ReconciliationJob{}).
		Where("id = ?", id)
	if len(disallowed) > 0 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, apperr.Database("update job", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormJobStore) DeleteJobCascade(ctx context.Context, id uuid.UUID) error {
	// Results reference the job, so they go first.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.ReconciliationResult{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.ReconciliationJob{}).Error
	})
	if err != nil {
		return apperr.Database("delete job", err)
	}
	return nil
}

func (s *gormJobStore) InsertResults(ctx context.Context, jobID uuid.UUID, results []*models.ReconciliationResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now()
	for _, r := range results {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.JobID = jobID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	}
	if err := s.db.WithContext(ctx).Create(&results).Error; err != nil {
		return apperr.Database("insert results", err)
	}
	return nil
}

func (s *gormJobStore) GetResult(ctx context.Context, id uuid.UUID) (*models.ReconciliationResult, error) {
	var result models.ReconciliationResult
	err := s.db.WithContext(ctx).First(&result, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("match %s not found", id)
	}
	if err != nil {
		return nil, apperr.Database("get result", err)
	}
	return &result, nil
}

func (s *gormJobStore) UpdateResultFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (int64, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := s.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return 0, apperr.Database("update result", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormJobStore) ListResults(ctx context.Context, jobID uuid.UUID, page, perPage int) ([]models.ReconciliationResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > MaxResultsPerPage {
		perPage = MaxResultsPerPage
	}
	var results []models.ReconciliationResult
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&results).Error
	if err != nil {
		return nil, apperr.Database("list results", err)
	}
	return results, nil
}

func (s *gormJobStore) CountResults(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("job_id = ?", jobID).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Database("count results", err)
	}
	return count, nil
}

func (s *gormJobStore) CountResultsByStatus(ctx context.Context, jobID uuid.UUID, status string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("job_id = ? AND status = ?", jobID, status).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Database("count results by status", err)
	}
	return count, nil
}

func (s *gormJobStore) ApprovedRecordConflict(ctx context.Context, jobID uuid.UUID, recordAID, recordBID *string, excludeResultID uuid.UUID) (bool, error) {
	if recordAID == nil && recordBID == nil {
		return false, nil
	}
	q := s.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("job_id = ? AND status = ? AND id <> ?", jobID, models.ResultStatusApproved, excludeResultID)
	switch {
	case recordAID != nil && recordBID != nil:
		q = q.Where("record_a_id = ? OR record_b_id = ?", *recordAID, *recordBID)
	case recordAID != nil:
		q = q.Where("record_a_id = ?", *recordAID)
	default:
		q = q.Where("record_b_id = ?", *recordBID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, apperr.Database("check approved conflict", err)
	}
	return count > 0, nil
}

func (s *gormJobStore) RunInTransaction(ctx context.Context, fn func(JobStore) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormJobStore{db: tx, log: s.log})
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Database("transaction", err)
	}
	return nil
}
