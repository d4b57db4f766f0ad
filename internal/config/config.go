// Package config loads flat runtime configuration from environment
// variables, with optional .env file support.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob the indexer and search CLI
// need.
type Config struct {
	// Persistence
	DBPath string // SQLite database file

	// Embedding model
	EmbeddingServiceURL string
	EmbeddingTimeout    int // seconds
	EmbeddingMaxRetries int

	// Pipeline sizing
	EmbeddingBatchSize        int
	ReaderWorkers             int
	ReconcilerChannelCapacity int
	WriterChannelCapacity     int

	// HTTP fetch
	HTTPTimeoutSeconds int

	// Highlight/chunking helper
	ChunkSize    int
	ChunkOverlap int
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBPath: getEnv("PERCEIVE_DB_PATH", "perceive.sqlite3"),

		EmbeddingServiceURL: getEnv("EMBEDDING_SERVICE_URL", "http://localhost:8001"),
		EmbeddingTimeout:    getEnvInt("EMBEDDING_TIMEOUT", 30),
		EmbeddingMaxRetries: getEnvInt("EMBEDDING_MAX_RETRIES", 3),

		EmbeddingBatchSize:        getEnvInt("EMBEDDING_BATCH_SIZE", 64),
		ReaderWorkers:             getEnvInt("READER_WORKERS", 8),
		ReconcilerChannelCapacity: getEnvInt("RECONCILER_CHANNEL_CAPACITY", 256),
		WriterChannelCapacity:     getEnvInt("WRITER_CHANNEL_CAPACITY", 8),

		HTTPTimeoutSeconds: getEnvInt("HTTP_TIMEOUT_SECONDS", 30),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 20),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 4),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
