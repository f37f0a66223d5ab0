// Package config holds the configuration sections of the pipeline.
// All configuration flows through constructors; there is no
// process-wide state.
package config

import (
	"os"
	"strconv"
	"time"
)

// OutboundConfig controls the client's queue-draining uploader.
type OutboundConfig struct {
	// BatchSize is the window size per ingest_batch call.
	BatchSize int
	// MaxRetries is the per-event retry ceiling. Entries that exhaust
	// it stay in the queue for operator inspection.
	MaxRetries int
	// RetryDelay is the advisory initial backoff before the engine
	// schedules the next attempt.
	RetryDelay time.Duration
}

// InboundConfig controls the cursor-driven event pull.
type InboundConfig struct {
	// BatchSize is the page size per store query.
	BatchSize int
	// MaxEvents is the ceiling per sync invocation.
	MaxEvents int
}

// EngineConfig controls the sync engine lifecycle.
type EngineConfig struct {
	// AutoSyncInterval is the periodic sync timer interval.
	AutoSyncInterval time.Duration
	// EnableAutoSync starts the timer automatically on engine start.
	EnableAutoSync bool
}

// SyncConfig aggregates the client sync configuration.
type SyncConfig struct {
	Outbound OutboundConfig
	Inbound  InboundConfig
	Engine   EngineConfig
}

// DefaultSyncConfig returns the built-in sync defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Outbound: OutboundConfig{
			BatchSize:  50,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Inbound: InboundConfig{
			BatchSize: 100,
			MaxEvents: 1000,
		},
		Engine: EngineConfig{
			AutoSyncInterval: 60 * time.Second,
			EnableAutoSync:   true,
		},
	}
}

// ProjectorConfig controls the server-side projection workers.
type ProjectorConfig struct {
	// WorkerCount is the number of projection goroutines.
	WorkerCount int
	// FeedBuffer is the capacity of the stored-event channel between
	// the change feed and the workers.
	FeedBuffer int
	// StoreTimeout bounds a single projection's store work.
	StoreTimeout time.Duration
}

// DefaultProjectorConfig returns the built-in projector defaults.
func DefaultProjectorConfig() *ProjectorConfig {
	return &ProjectorConfig{
		WorkerCount:  4,
		FeedBuffer:   256,
		StoreTimeout: 15 * time.Second,
	}
}

// ServerConfig is the reviso server process configuration.
type ServerConfig struct {
	HTTPPort        string
	ShutdownTimeout time.Duration
	Projector       *ProjectorConfig
}

// LoadServerConfigFromEnv builds the server configuration from
// environment variables, falling back to defaults.
func LoadServerConfigFromEnv() *ServerConfig {
	cfg := &ServerConfig{
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
		ShutdownTimeout: 15 * time.Second,
		Projector:       DefaultProjectorConfig(),
	}
	if n, err := strconv.Atoi(os.Getenv("PROJECTOR_WORKERS")); err == nil && n > 0 {
		cfg.Projector.WorkerCount = n
	}
	if d, err := time.ParseDuration(os.Getenv("SHUTDOWN_TIMEOUT")); err == nil && d > 0 {
		cfg.ShutdownTimeout = d
	}
	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
