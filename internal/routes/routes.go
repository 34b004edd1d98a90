package routes

import (
	"github.com/gin-gonic/gin"

	handler "record-reconciliation-backend/internal/handlers"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/repository"
	"record-reconciliation-backend/internal/services/authz"
	"record-reconciliation-backend/internal/services/export"
	"record-reconciliation-backend/internal/services/jobs"
	"record-reconciliation-backend/internal/services/resolution"
	"record-reconciliation-backend/internal/services/scheduler"
)

// Deps carries the shared collaborators the route tree is built on. The
// scheduler is constructed in main so its lifecycle outlives any request.
type Deps struct {
	Store     repository.JobStore
	Source    *scheduler.MemorySource
	Scheduler *scheduler.Scheduler
	Log       *logger.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	jobSvc := jobs.NewService(d.Store, d.Source, d.Log)
	transactor := resolution.NewTransactor(d.Store, d.Log)
	exporter := export.NewExporter(d.Store)
	access := authz.NewCreatorChecker(d.Store)

	reconHandler := handler.NewReconciliationHandler(
		d.Store, jobSvc, d.Scheduler, transactor, exporter, access, d.Log,
	)

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	jobGroup := api.Group("/jobs")
	jobGroup.POST("", reconHandler.CreateJob)
	jobGroup.GET("/active", reconHandler.ListActiveJobs)
	jobGroup.POST("/:id/start", reconHandler.StartJob)
	jobGroup.POST("/:id/stop", reconHandler.StopJob)
	jobGroup.GET("/:id/status", reconHandler.GetJobStatus)
	jobGroup.GET("/:id/results", reconHandler.ListResults)
	jobGroup.GET("/:id/export", reconHandler.ExportResults)
	jobGroup.GET("/:id/statistics", reconHandler.GetJobStatistics)
	jobGroup.DELETE("/:id", reconHandler.DeleteJob)

	results := api.Group("/results")
	results.POST("/:id/resolve", reconHandler.ResolveResult)
	results.POST("/batch-resolve", reconHandler.BatchResolve)

	projects := api.Group("/projects")
	projects.GET("/:projectId/jobs", reconHandler.ListProjectJobs)
}
