package monitor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Enabled   bool          `envconfig:"KILL_SWITCH_MONITOR_ENABLED" default:"true"`
	Period    time.Duration `envconfig:"KILL_SWITCH_MONITOR_PERIOD" default:"60s"`
	BatchSize int           `envconfig:"KILL_SWITCH_MONITOR_BATCH_SIZE" default:"100"`

	ProtectiveEnabled   bool          `envconfig:"PROTECTIVE_EXIT_MONITOR_ENABLED" default:"true"`
	ProtectivePeriod    time.Duration `envconfig:"PROTECTIVE_EXIT_MONITOR_PERIOD" default:"15s"`
	ProtectiveBatchSize int           `envconfig:"PROTECTIVE_EXIT_MONITOR_BATCH_SIZE" default:"200"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
