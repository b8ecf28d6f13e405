package connect

import (
	"context"
	"fmt"

	"tradeengine/src/database"
	"tradeengine/src/model"
	"tradeengine/src/repository"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type Config struct {
	UserID      uint   `envconfig:"CONNECT_USER_ID" required:"true"`
	Broker      string `envconfig:"CONNECT_BROKER" default:"kite"`
	APIKey      string `envconfig:"CONNECT_API_KEY" required:"true"`
	AccessToken string `envconfig:"CONNECT_ACCESS_TOKEN" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Connector registers a broker connection for a user, encrypting the access
// token at rest. Tokens rotate daily with most brokers, so this gets run for
// each fresh token.
type Connector struct{}

func (c *Connector) Start() error {
	config := GetConfig()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	connections := repository.NewConnectionRepository()

	conn := &model.BrokerConnection{
		UserID: config.UserID,
		Broker: config.Broker,
		APIKey: config.APIKey,
		Status: model.ConnectionStatusActive,
	}

	if err := connections.Create(context.Background(), conn, config.AccessToken); err != nil {
		logrus.WithError(err).Error("Failed to register broker connection")
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"broker":        conn.Broker,
	}).Info("Broker connection registered")

	return nil
}
