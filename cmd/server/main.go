package main

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"record-reconciliation-backend/internal/config"
	"record-reconciliation-backend/internal/logger"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
	"record-reconciliation-backend/internal/routes"
	"record-reconciliation-backend/internal/services/scheduler"
)

func main() {
	// Load .env if present, otherwise rely on system env.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}

	if err := db.AutoMigrate(
		&models.ReconciliationJob{},
		&models.ReconciliationResult{},
	); err != nil {
		log.Fatal("migration failed", "error", err)
	}

	store := repository.NewJobStore(db, log)
	source := scheduler.NewMemorySource()
	registry := scheduler.NewRegistry()
	sched := scheduler.New(store, source, registry, scheduler.Config{
		Concurrency: cfg.WorkerConcurrency,
		BatchSize:   cfg.MatchBatchSize,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		Store:     store,
		Source:    source,
		Scheduler: sched,
		Log:       log,
	})

	log.Info("server starting", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("server exited", "error", err)
	}
}
