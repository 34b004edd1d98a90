package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries everything the server reads from the environment.
type Config struct {
	Port        string
	Mode        string
	PostgresDSN string

	// WorkerConcurrency caps how many reconciliation jobs run at once.
	// Tune it to the available DB connections.
	WorkerConcurrency int

	// MatchBatchSize is how many results the scheduler persists per write;
	// cancellation is only observed between batches.
	MatchBatchSize int
}

func Load() Config {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "postgres")
	password := getEnv("POSTGRES_PASSWORD", "")
	name := getEnv("POSTGRES_DB", "reconciliation")

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, name,
	)

	return Config{
		Port:              getEnv("PORT", "8080"),
		Mode:              getEnv("APP_MODE", "development"),
		PostgresDSN:       getEnv("POSTGRES_DSN", dsn),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		MatchBatchSize:    getEnvInt("MATCH_BATCH_SIZE", 200),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
