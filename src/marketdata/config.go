package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RefreshEnabled   bool          `envconfig:"UNREALIZED_PNL_REFRESH_ENABLED" default:"true"`
	RefreshPeriod    time.Duration `envconfig:"UNREALIZED_PNL_REFRESH_PERIOD" default:"60s"`
	RefreshBatchSize int           `envconfig:"UNREALIZED_PNL_REFRESH_BATCH_SIZE" default:"200"`
	QuoteCurrency    string        `envconfig:"MARKETDATA_QUOTE_CURRENCY" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
