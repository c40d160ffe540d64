package job

import "time"

// Config holds the job queue configuration.
type Config struct {
	PollInterval     time.Duration `env:"JOBS_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout      time.Duration `env:"JOBS_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout  time.Duration `env:"JOBS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentJob int           `env:"JOBS_MAX_CONCURRENT" envDefault:"10"`
}
