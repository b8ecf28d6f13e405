package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// UserRepository resolves API tokens into user accounts.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *UserRepository {
	return &UserRepository{db: database.ReadOnlyDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByAPIToken returns the user owning the token, or (nil, nil) when the
// token is unknown.
func (r *UserRepository) FindByAPIToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	var user model.User
	err := r.db.WithContext(ctx).
		Where("api_token = ?", token).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "FindByAPIToken",
		}).WithError(err).Error("Failed to fetch user by token")
		return nil, err
	}

	return &user, nil
}
