package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
	"tradeengine/src/security"
)

// ConnectionRepository handles persistence for broker connections. Access
// tokens are encrypted before they hit the database and only decrypted on
// demand when a connector is built.
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new repository instance using the main read/write database.
func NewConnectionRepository() *ConnectionRepository {
	logger.WithField("component", "ConnectionRepository").
		Info("Creating new ConnectionRepository with MainDB")

	return &ConnectionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ConnectionRepository) WithDB(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create stores a new broker connection, sealing the given plaintext access token.
func (r *ConnectionRepository) Create(ctx context.Context, conn *model.BrokerConnection, accessToken string) error {
	cipher, err := security.EncryptString(accessToken)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "ConnectionRepository",
			"op":      "Create",
			"user_id": conn.UserID,
		}).WithError(err).Error("Failed to encrypt access token")
		return err
	}
	conn.AccessTokenCipher = cipher

	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "ConnectionRepository",
			"op":      "Create",
			"user_id": conn.UserID,
		}).WithError(err).Error("Failed to create broker connection")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":          "ConnectionRepository",
		"op":            "Create",
		"connection_id": conn.ID,
	}).Info("Broker connection created")

	return nil
}

// FindByID fetches a broker connection by its primary ID.
// Returns (nil, nil) if the connection is not found.
func (r *ConnectionRepository) FindByID(ctx context.Context, id uint) (*model.BrokerConnection, error) {
	var conn model.BrokerConnection
	err := r.db.WithContext(ctx).First(&conn, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "ConnectionRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Broker connection not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ConnectionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch broker connection")
		return nil, err
	}

	return &conn, nil
}

// FindByIDAndUser fetches a broker connection scoped to the owning user.
// Returns (nil, nil) if not found or owned by someone else.
func (r *ConnectionRepository) FindByIDAndUser(ctx context.Context, id, userID uint) (*model.BrokerConnection, error) {
	var conn model.BrokerConnection
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "ConnectionRepository",
			"op":      "FindByIDAndUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch broker connection for user")
		return nil, err
	}

	return &conn, nil
}

// AccessToken opens the sealed access token of one connection.
func (r *ConnectionRepository) AccessToken(conn *model.BrokerConnection) (string, error) {
	if conn.AccessTokenCipher == "" {
		return "", errors.New("broker connection has no access token")
	}

	token, err := security.DecryptString(conn.AccessTokenCipher)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":          "ConnectionRepository",
			"op":            "AccessToken",
			"connection_id": conn.ID,
		}).WithError(err).Error("Failed to decrypt access token")
		return "", err
	}

	return token, nil
}
