package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
	"record-reconciliation-backend/internal/services/matching"
)

// RecordSink receives the record sets delivered alongside a job. The
// in-memory scheduler source implements it.
type RecordSink interface {
	Register(jobID uuid.UUID, recordsA, recordsB []models.Record)
	Drop(jobID uuid.UUID)
}

// Service owns job rows outside the matching loop: creation, listing,
// statistics and deletion. Running state belongs to the scheduler.
type Service struct {
	store repository.JobStore
	sink  RecordSink
	log   *logger.Logger
}

func NewService(store repository.JobStore, sink RecordSink, baseLog *logger.Logger) *Service {
	return &Service{
		store: store,
		sink:  sink,
		log:   baseLog.With("component", "JobService"),
	}
}

// CreateJobInput is everything a caller supplies for a new job. The record
// sets arrive already normalized from the ingestion collaborator.
type CreateJobInput struct {
	ProjectID           uuid.UUID
	Name                string
	Description         string
	ConfidenceThreshold float64
	Rules               []models.MatchingRule
	CreatedBy           uuid.UUID
	RecordsA            []models.Record
	RecordsB            []models.Record
}

// Create validates the input and persists a pending job.
func (s *Service) Create(ctx context.Context, in CreateJobInput) (*models.ReconciliationJob, error) {
	if in.Name == "" {
		return nil, apperr.Validationf("job name is required")
	}
	if in.ConfidenceThreshold < 0 || in.ConfidenceThreshold > 1 {
		return nil, apperr.Validationf("confidence threshold must be in [0,1]")
	}
	if err := matching.ValidateRules(in.Rules); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &models.ReconciliationJob{
		ID:                  uuid.New(),
		ProjectID:           in.ProjectID,
		Name:                in.Name,
		Description:         in.Description,
		Status:              models.JobStatusPending,
		ConfidenceThreshold: in.ConfidenceThreshold,
		CreatedBy:           in.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := job.SetRules(in.Rules); err != nil {
		return nil, apperr.Validationf("encode matching rules: %v", err)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.sink.Register(job.ID, in.RecordsA, in.RecordsB)
	s.log.Info("job created", "job_id", job.ID, "project_id", job.ProjectID, "records_a", len(in.RecordsA), "records_b", len(in.RecordsB))
	return job, nil
}

func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*models.ReconciliationJob, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error) {
	return s.store.ListJobsByProject(ctx, projectID)
}

// Statistics summarizes a job's results for reporting.
type Statistics struct {
	JobID            uuid.UUID `json:"job_id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	TotalResults     int64     `json:"total_results"`
	MatchedRecords   int       `json:"matched_records"`
	UnmatchedRecords int       `json:"unmatched_records"`
	PendingReview    int64     `json:"pending_review"`
	Approved         int64     `json:"approved"`
	Rejected         int64     `json:"rejected"`
	MatchRate        float64   `json:"match_rate"`
}

func (s *Service) GetStatistics(ctx context.Context, jobID uuid.UUID) (*Statistics, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.CountResultsByStatus(ctx, jobID, models.ResultStatusPending)
	if err != nil {
		return nil, err
	}
	approved, err := s.store.CountResultsByStatus(ctx, jobID, models.ResultStatusApproved)
	if err != nil {
		return nil, err
	}
	rejected, err := s.store.CountResultsByStatus(ctx, jobID, models.ResultStatusRejected)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		JobID:            job.ID,
		Name:             job.Name,
		Status:           job.Status,
		TotalResults:     total,
		MatchedRecords:   job.MatchedRecords,
		UnmatchedRecords: job.UnmatchedRecords,
		PendingReview:    pending,
		Approved:         approved,
		Rejected:         rejected,
	}
	if job.ProcessedRecords > 0 {
		stats.MatchRate = float64(job.MatchedRecords) / float64(job.ProcessedRecords)
	}
	return stats, nil
}

// Delete removes a job and its results. Results cascade first so the job row
// is never orphan-referenced.
func (s *Service) Delete(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.store.DeleteJobCascade(ctx, jobID); err != nil {
		return err
	}
	s.sink.Drop(jobID)
	s.log.Info("job deleted", "job_id", jobID)
	return nil
}
