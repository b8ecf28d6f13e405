package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BrokerBaseURL string        `envconfig:"BROKER_BASE_URL" default:"https://api.kite.trade"`
	BrokerAPIKey  string        `envconfig:"BROKER_API_KEY"`
	BrokerName    string        `envconfig:"BROKER_NAME" default:"zerodha"`
	HTTPTimeout   time.Duration `envconfig:"BROKER_HTTP_TIMEOUT" default:"15s"`
	RetryAttempts int           `envconfig:"BROKER_RETRY_ATTEMPTS" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
