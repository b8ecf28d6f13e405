package server

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the HTTP listener settings.
type Config struct {
	Port string `envconfig:"PORT" default:"8890"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
