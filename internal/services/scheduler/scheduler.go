package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
	"record-reconciliation-backend/internal/services/matching"
)

// Config tunes the worker pool.
type Config struct {
	// Concurrency is the number of jobs allowed to run at once.
	Concurrency int
	// BatchSize is how many result rows each persistence write carries.
	// Cancellation is only observed between batches.
	BatchSize int
}

// Scheduler consumes the registry queue, enforces the concurrency limit and
// drives each claimed job through the matching engine, reporting progress
// into both the registry and the store.
type Scheduler struct {
	store    repository.JobStore
	source   RecordSource
	registry *Registry
	sem      *semaphore.Weighted
	cfg      Config
	log      *logger.Logger
	wake     chan struct{}
}

func New(store repository.JobStore, source RecordSource, registry *Registry, cfg Config, baseLog *logger.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	return &Scheduler{
		store:    store,
		source:   source,
		registry: registry,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:      cfg,
		log:      baseLog.With("component", "JobScheduler"),
		wake:     make(chan struct{}, 1),
	}
}

// Registry exposes the in-flight bookkeeping for status queries.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Start launches the dispatcher. It returns immediately; ctx cancellation
// stops dispatching new jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("starting job scheduler", "concurrency", s.cfg.Concurrency, "batch_size", s.cfg.BatchSize)
	go s.dispatchLoop(ctx)
}

// Submit validates the job and queues it for execution. Duplicate
// submissions of a queued or running job are a no-op, never an error.
func (s *Scheduler) Submit(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobStatusPending:
	case models.JobStatusRunning:
		// Already claimed by a worker; nothing to do.
		return nil
	default:
		return apperr.Validationf("job %s is already %s", jobID, job.Status)
	}
	if s.registry.Enqueue(jobID, job.ProjectID) {
		s.log.Info("job queued", "job_id", jobID)
	}
	s.kick()
	return nil
}

// Stop cancels a job. Active runs are flagged and wind down cooperatively at
// the next batch boundary; queued jobs are removed and marked cancelled
// directly. Unknown jobs surface NotFound.
func (s *Scheduler) Stop(ctx context.Context, jobID uuid.UUID) error {
	if s.registry.RequestCancel(jobID) {
		s.log.Info("cancellation requested", "job_id", jobID)
		return nil
	}
	if s.registry.RemoveQueued(jobID) {
		_, err := s.store.UpdateJobFieldsUnlessStatus(ctx, jobID, models.TerminalJobStatuses, map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": time.Now(),
		})
		if err == nil {
			s.log.Info("queued job cancelled", "job_id", jobID)
		}
		return err
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if models.IsTerminalJobStatus(job.Status) {
		return apperr.Validationf("job %s is already %s", jobID, job.Status)
	}
	changed, err := s.store.UpdateJobFieldsUnlessStatus(ctx, jobID, models.TerminalJobStatuses, map[string]interface{}{
		"status":       models.JobStatusCancelled,
		"completed_at": time.Now(),
	})
	if err != nil {
		return err
	}
	if !changed {
		return apperr.Validationf("job %s already finished", jobID)
	}
	return nil
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-s.wake:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		if !s.sem.TryAcquire(1) {
			return
		}
		jobID, ok := s.registry.PromoteNext()
		if !ok {
			s.sem.Release(1)
			return
		}
		go func(id uuid.UUID) {
			defer func() {
				s.sem.Release(1)
				s.kick()
			}()
			s.runJob(ctx, id)
		}(jobID)
	}
}

type counters struct {
	total     *int
	processed int
	matched   int
	unmatched int
}

func (c counters) progress() int {
	if c.total == nil || *c.total == 0 {
		return 0
	}
	return c.processed * 100 / *c.total
}

// runJob drives one claimed job from Running to a terminal state.
func (s *Scheduler) runJob(ctx context.Context, jobID uuid.UUID) {
	log := s.log.With("job_id", jobID)
	defer s.registry.Remove(jobID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job run panic", "panic", r)
			s.finish(ctx, jobID, models.JobStatusFailed, "internal error", counters{}, log)
		}
	}()

	claimed, err := s.store.UpdateJobFieldsUnlessStatus(ctx, jobID, models.TerminalJobStatuses, map[string]interface{}{
		"status":            models.JobStatusRunning,
		"started_at":        time.Now(),
		"progress":          0,
		"processed_records": 0,
		"matched_records":   0,
		"unmatched_records": 0,
		"error_message":     "",
	})
	if err != nil {
		log.Error("failed to claim job", "error", err)
		return
	}
	if !claimed {
		log.Warn("job reached a terminal state before it could start")
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), counters{}, log)
		return
	}

	rules, err := job.Rules()
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed, "corrupt matching rule set: "+err.Error(), counters{}, log)
		return
	}

	s.registry.SetPhase(jobID, "loading records")
	recordsA, recordsB, err := s.source.Load(ctx, jobID)
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), counters{}, log)
		return
	}

	if s.registry.CancelRequested(jobID) {
		s.finish(ctx, jobID, models.JobStatusCancelled, "", counters{}, log)
		return
	}

	s.registry.SetPhase(jobID, "matching")
	outcome, err := matching.Match(recordsA, recordsB, rules, job.ConfidenceThreshold)
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), counters{}, log)
		return
	}

	total := len(outcome.Results)
	c := counters{total: &total}
	s.registry.SetTotal(jobID, total)
	if err := s.store.UpdateJobFields(ctx, jobID, map[string]interface{}{"total_records": total}); err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), c, log)
		return
	}

	s.registry.SetPhase(jobID, "persisting results")
	for start := 0; start < total; start += s.cfg.BatchSize {
		// Cooperative cancellation, checked between batches only: a batch in
		// flight always completes its write.
		if s.registry.CancelRequested(jobID) {
			s.finish(ctx, jobID, models.JobStatusCancelled, "", c, log)
			return
		}

		end := start + s.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := outcome.Results[start:end]
		if err := s.store.InsertResults(ctx, jobID, batch); err != nil {
			s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), c, log)
			return
		}
		for _, r := range batch {
			c.processed++
			if r.RecordAID != nil && r.RecordBID != nil {
				c.matched++
			} else {
				c.unmatched++
			}
		}
		s.registry.UpdateCounters(jobID, c.processed, c.matched, c.unmatched, c.progress())
		if err := s.store.UpdateJobFields(ctx, jobID, map[string]interface{}{
			"progress":          c.progress(),
			"processed_records": c.processed,
			"matched_records":   c.matched,
			"unmatched_records": c.unmatched,
		}); err != nil {
			s.finish(ctx, jobID, models.JobStatusFailed, apperr.Message(err), c, log)
			return
		}
	}

	// A stop() racing the final batch must still win: seal the entry and
	// finish cancelled if the flag was raised first.
	if !s.registry.SealIfNotCancelled(jobID) {
		s.finish(ctx, jobID, models.JobStatusCancelled, "", c, log)
		return
	}
	s.finish(ctx, jobID, models.JobStatusCompleted, "", c, log)
}

// finish persists the terminal state in a single update. The guard keeps an
// already-terminal row untouched, so whoever reaches a terminal state first
// wins.
func (s *Scheduler) finish(ctx context.Context, jobID uuid.UUID, status, errMsg string, c counters, log *logger.Logger) {
	progress := c.progress()
	if status == models.JobStatusCompleted {
		progress = 100
	}
	updates := map[string]interface{}{
		"status":            status,
		"progress":          progress,
		"processed_records": c.processed,
		"matched_records":   c.matched,
		"unmatched_records": c.unmatched,
		"completed_at":      time.Now(),
		"error_message":     errMsg,
	}
	changed, err := s.store.UpdateJobFieldsUnlessStatus(ctx, jobID, models.TerminalJobStatuses, updates)
	if err != nil {
		log.Error("failed to persist terminal state", "status", status, "error", err)
		return
	}
	if !changed {
		log.Warn("job was already terminal", "status", status)
		return
	}
	switch status {
	case models.JobStatusFailed:
		log.Error("job failed", "error_message", errMsg, "processed", c.processed)
	default:
		log.Info("job finished", "status", status, "processed", c.processed, "matched", c.matched, "unmatched", c.unmatched)
	}
}

// StatusPayload is the projection handed to callers for any job, whether it
// is in flight or already persisted to a terminal state.
type StatusPayload struct {
	JobID               uuid.UUID  `json:"job_id"`
	ProjectID           uuid.UUID  `json:"project_id"`
	Status              string     `json:"status"`
	Progress            int        `json:"progress"`
	TotalRecords        *int       `json:"total_records,omitempty"`
	ProcessedRecords    int        `json:"processed_records"`
	MatchedRecords      int        `json:"matched_records"`
	UnmatchedRecords    int        `json:"unmatched_records"`
	CurrentPhase        string     `json:"current_phase"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// Status reports a job's progress. In-flight jobs answer from the registry
// without touching the matching loop; anything else is projected from the
// persisted row, with the status standing in for the current phase.
func (s *Scheduler) Status(ctx context.Context, jobID uuid.UUID) (*StatusPayload, error) {
	if e, ok := s.registry.Snapshot(jobID); ok {
		status := models.JobStatusRunning
		var eta *time.Time
		if e.State == entryQueued {
			status = models.JobStatusPending
		} else {
			eta = EstimateCompletion(e.TotalRecords, e.ProcessedRecords, e.StartedAt, time.Now())
		}
		return &StatusPayload{
			JobID:               e.JobID,
			ProjectID:           e.ProjectID,
			Status:              status,
			Progress:            e.Progress,
			TotalRecords:        e.TotalRecords,
			ProcessedRecords:    e.ProcessedRecords,
			MatchedRecords:      e.MatchedRecords,
			UnmatchedRecords:    e.UnmatchedRecords,
			CurrentPhase:        e.CurrentPhase,
			EstimatedCompletion: eta,
		}, nil
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusPayload{
		JobID:            job.ID,
		ProjectID:        job.ProjectID,
		Status:           job.Status,
		Progress:         job.Progress,
		TotalRecords:     job.TotalRecords,
		ProcessedRecords: job.ProcessedRecords,
		MatchedRecords:   job.MatchedRecords,
		UnmatchedRecords: job.UnmatchedRecords,
		CurrentPhase:     job.Status,
	}, nil
}
