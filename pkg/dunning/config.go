package dunning

import "time"

// Config holds the payment recovery schedule parameters.
type Config struct {
	MaxRetries    int           `env:"DUNNING_MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"DUNNING_RETRY_INTERVAL" envDefault:"24h"`
}
