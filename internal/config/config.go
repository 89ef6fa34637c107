// Package config loads process-wide configuration via envconfig struct
// tags, matching the teacher's internal/config/config.go pattern. A
// SystemConfig overlay read from the store at Supervisor startup takes
// precedence over these in-process defaults, per spec §4.7.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of process-level tunables, populated from
// environment variables with the exact names spec.md §6 documents plus
// the additional worker/timeout/rate-limit knobs the ambient stack needs.
type Config struct {
	// Server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Store
	DBPath string `envconfig:"MESSAGEPUSHER_DB_PATH" default:"data/messagepusher.db"`

	// Worker pool / queue
	WorkerPoolSize  int           `envconfig:"WORKER_POOL_SIZE" default:"5"`
	MaxRetryCount   int           `envconfig:"MAX_RETRY_COUNT" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"5s"`
	URLFetchTimeout time.Duration `envconfig:"URL_FETCH_TIMEOUT" default:"10s"`
	MaxContentBytes int           `envconfig:"MAX_CONTENT_LENGTH" default:"1048576"`

	// Scheduler cadence, seconds
	CleanupIntervalSeconds int `envconfig:"CLEANUP_INTERVAL" default:"3600"`
	RetryIntervalSeconds   int `envconfig:"RETRY_INTERVAL" default:"300"`
	StatsIntervalSeconds   int `envconfig:"STATS_INTERVAL" default:"86400"`
	StuckThresholdSeconds  int `envconfig:"STUCK_THRESHOLD_SECONDS" default:"120"`
	TaskPurgeAgeSeconds    int `envconfig:"TASK_PURGE_AGE_SECONDS" default:"86400"`
	AttemptRetentionDays   int `envconfig:"ATTEMPT_RETENTION_DAYS" default:"30"`

	// Error ledger
	ErrorLedgerMaxHistory int `envconfig:"ERROR_LEDGER_MAX_HISTORY" default:"1000"`

	// Rate limiting (ambient ingress concern, not part of the dispatch core)
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"30"`

	// NATS event bus (optional; empty disables publishing)
	NATSURL string `envconfig:"NATS_URL"`

	// Redis (optional; empty disables rate limiting)
	RedisURL string `envconfig:"REDIS_URL"`

	// Observability
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"MESSAGEPUSHER_ENV" default:"production"`
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
