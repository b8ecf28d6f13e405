package execution

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WorkerEnabled      bool          `envconfig:"SUBMISSION_WORKER_ENABLED" default:"true"`
	WorkerPollInterval time.Duration `envconfig:"SUBMISSION_WORKER_POLL_INTERVAL" default:"2s"`
	StaleJobTimeout    time.Duration `envconfig:"SUBMISSION_STALE_JOB_TIMEOUT" default:"2m"`

	ReconcilerEnabled   bool          `envconfig:"RECONCILER_ENABLED" default:"true"`
	ReconcilerPeriod    time.Duration `envconfig:"RECONCILER_PERIOD" default:"30s"`
	ReconcilerBatchSize int           `envconfig:"RECONCILER_BATCH_SIZE" default:"50"`

	DefaultExchange string `envconfig:"DEFAULT_EXCHANGE" default:"NSE"`
	DefaultProduct  string `envconfig:"DEFAULT_PRODUCT" default:"MIS"`
	DefaultValidity string `envconfig:"DEFAULT_VALIDITY" default:"DAY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
