package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
	"record-reconciliation-backend/internal/services/authz"
	"record-reconciliation-backend/internal/services/export"
	"record-reconciliation-backend/internal/services/jobs"
	"record-reconciliation-backend/internal/services/resolution"
	"record-reconciliation-backend/internal/services/scheduler"
)

// userIDHeader carries the caller identity until a real auth middleware lands.
const userIDHeader = "X-User-ID"

type ReconciliationHandler struct {
	store      repository.JobStore
	jobs       *jobs.Service
	scheduler  *scheduler.Scheduler
	transactor *resolution.Transactor
	exporter   *export.Exporter
	access     authz.AccessChecker
	log        *logger.Logger
}

func NewReconciliationHandler(
	store repository.JobStore,
	jobSvc *jobs.Service,
	sched *scheduler.Scheduler,
	transactor *resolution.Transactor,
	exporter *export.Exporter,
	access authz.AccessChecker,
	baseLog *logger.Logger,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		store:      store,
		jobs:       jobSvc,
		scheduler:  sched,
		transactor: transactor,
		exporter:   exporter,
		access:     access,
		log:        baseLog.With("component", "ReconciliationHandler"),
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(userIDHeader))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + userIDHeader + " header"})
		return uuid.Nil, false
	}
	return id, true
}

// checkAccess enforces the caller's right to touch a job before any mutation
// or read of job-scoped data.
func (h *ReconciliationHandler) checkAccess(c *gin.Context, jobID uuid.UUID) bool {
	userID, ok := callerID(c)
	if !ok {
		return false
	}
	if err := h.access.CheckJobAccess(c.Request.Context(), userID, jobID); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

type recordPayload struct {
	ID     string            `json:"id" binding:"required"`
	Fields map[string]string `json:"fields"`
}

type createJobRequest struct {
	ProjectID           uuid.UUID             `json:"project_id" binding:"required"`
	Name                string                `json:"name" binding:"required"`
	Description         string                `json:"description"`
	ConfidenceThreshold float64               `json:"confidence_threshold"`
	MatchingRules       []models.MatchingRule `json:"matching_rules" binding:"required"`
	RecordsA            []recordPayload       `json:"records_a"`
	RecordsB            []recordPayload       `json:"records_b"`
}

func toRecords(in []recordPayload) []models.Record {
	out := make([]models.Record, 0, len(in))
	for _, r := range in {
		out = append(out, models.Record{ID: r.ID, Fields: r.Fields})
	}
	return out
}

func (h *ReconciliationHandler) CreateJob(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Create(c.Request.Context(), jobs.CreateJobInput{
		ProjectID:           req.ProjectID,
		Name:                req.Name,
		Description:         req.Description,
		ConfidenceThreshold: req.ConfidenceThreshold,
		Rules:               req.MatchingRules,
		CreatedBy:           userID,
		RecordsA:            toRecords(req.RecordsA),
		RecordsB:            toRecords(req.RecordsB),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (h *ReconciliationHandler) StartJob(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}
	if err := h.scheduler.Submit(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "job submitted", "job_id": jobID})
}

func (h *ReconciliationHandler) StopJob(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}
	if err := h.scheduler.Stop(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "cancellation requested", "job_id": jobID})
}

func (h *ReconciliationHandler) GetJobStatus(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}
	status, err := h.scheduler.Status(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ReconciliationHandler) ListResults(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	ctx := c.Request.Context()
	if _, err := h.jobs.Get(ctx, jobID); err != nil {
		respondError(c, err)
		return
	}
	rows, err := h.store.ListResults(ctx, jobID, page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := h.store.CountResults(ctx, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":  rows,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

func (h *ReconciliationHandler) ExportResults(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}

	format := c.DefaultQuery("format", export.FormatCSV)
	payload, contentType, err := h.exporter.Export(c.Request.Context(), jobID, format)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=reconciliation-results-"+jobID.String()+"."+format)
	c.Data(http.StatusOK, contentType, payload)
}

func (h *ReconciliationHandler) DeleteJob(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}
	if _, active := h.scheduler.Registry().Snapshot(jobID); active {
		c.JSON(http.StatusConflict, gin.H{"error": "job is queued or running, stop it first"})
		return
	}
	if err := h.jobs.Delete(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted", "job_id": jobID})
}

func (h *ReconciliationHandler) GetJobStatistics(c *gin.Context) {
	jobID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if !h.checkAccess(c, jobID) {
		return
	}
	stats, err := h.jobs.GetStatistics(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) ListProjectJobs(c *gin.Context) {
	projectID, ok := parseIDParam(c, "projectId")
	if !ok {
		return
	}
	list, err := h.jobs.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (h *ReconciliationHandler) ListActiveJobs(c *gin.Context) {
	reg := h.scheduler.Registry()
	c.JSON(http.StatusOK, gin.H{
		"active": reg.ActiveIDs(),
		"queued": reg.QueuedIDs(),
	})
}

type resolveRequest struct {
	Status          string   `json:"status" binding:"required"`
	ConfidenceScore *float64 `json:"confidence_score"`
	Notes           string   `json:"notes"`
}

func (h *ReconciliationHandler) ResolveResult(c *gin.Context) {
	resultID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.GetResult(ctx, resultID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.access.CheckJobAccess(ctx, userID, existing.JobID); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.transactor.ResolveOne(ctx, resultID, req.Status, req.ConfidenceScore, &userID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match resolved", "result": result})
}

type batchResolveRequest struct {
	Resolutions []resolution.BatchItem `json:"resolutions" binding:"required"`
}

func (h *ReconciliationHandler) BatchResolve(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req batchResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Resolutions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolutions must not be empty"})
		return
	}

	// Access is checked up front for every job the batch touches. Items whose
	// result cannot be looked up stay in the batch; the transactor reports
	// them per-item.
	ctx := c.Request.Context()
	checked := make(map[uuid.UUID]bool)
	for _, item := range req.Resolutions {
		resultID, err := uuid.Parse(item.ResultID)
		if err != nil {
			continue
		}
		existing, err := h.store.GetResult(ctx, resultID)
		if err != nil {
			continue
		}
		if checked[existing.JobID] {
			continue
		}
		if err := h.access.CheckJobAccess(ctx, userID, existing.JobID); err != nil {
			respondError(c, err)
			return
		}
		checked[existing.JobID] = true
	}

	summary, err := h.transactor.BatchResolve(ctx, req.Resolutions, &userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
