package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// RiskRepository handles persistence for risk profiles and risk alerts.
type RiskRepository struct {
	db *gorm.DB
}

// NewRiskRepository creates a new repository instance using the main read/write database.
func NewRiskRepository() *RiskRepository {
	logger.WithField("component", "RiskRepository").
		Info("Creating new RiskRepository with MainDB")

	return &RiskRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RiskRepository) WithDB(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// GetOrCreateProfile loads a user's risk profile, lazily creating it with
// all-zero (disabled) defaults on first access.
func (r *RiskRepository) GetOrCreateProfile(ctx context.Context, userID uint) (*model.RiskProfile, error) {
	logger.WithFields(map[string]interface{}{
		"repo":    "RiskRepository",
		"op":      "GetOrCreateProfile",
		"user_id": userID,
	}).Debug("Loading risk profile")

	var profile model.RiskProfile
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "GetOrCreateProfile",
			"user_id": userID,
		}).WithError(err).Error("Failed to load risk profile")
		return nil, err
	}

	profile = model.RiskProfile{UserID: userID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&profile).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "GetOrCreateProfile",
			"user_id": userID,
		}).WithError(err).Error("Failed to create default risk profile")
		return nil, err
	}

	// Re-read in case a concurrent creator won the conflict.
	if profile.ID == 0 {
		if err := r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&profile).Error; err != nil {
			return nil, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "RiskRepository",
		"op":         "GetOrCreateProfile",
		"user_id":    userID,
		"profile_id": profile.ID,
	}).Info("Risk profile created with defaults")

	return &profile, nil
}

// UpdateProfile applies targeted limit updates to one user's profile.
func (r *RiskRepository) UpdateProfile(ctx context.Context, userID uint, updates map[string]interface{}) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "RiskRepository",
		"op":      "UpdateProfile",
		"user_id": userID,
		"fields":  len(updates),
	}).Debug("Updating risk profile")

	err := r.db.WithContext(ctx).
		Model(&model.RiskProfile{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "UpdateProfile",
			"user_id": userID,
		}).WithError(err).Error("Failed to update risk profile")
		return err
	}

	return nil
}

// SetKillSwitch flips the account-wide kill switch for one user.
func (r *RiskRepository) SetKillSwitch(ctx context.Context, userID uint, enabled bool, reason string) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "RiskRepository",
		"op":      "SetKillSwitch",
		"user_id": userID,
		"enabled": enabled,
		"reason":  reason,
	}).Info("Setting kill switch")

	err := r.db.WithContext(ctx).
		Model(&model.RiskProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"kill_switch_enabled": enabled,
			"kill_switch_reason":  reason,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "SetKillSwitch",
			"user_id": userID,
		}).WithError(err).Error("Failed to set kill switch")
		return err
	}

	return nil
}

// FindActiveProfiles returns a bounded batch of profiles whose kill switch
// is not engaged, ordered by user id for a stable scan.
func (r *RiskRepository) FindActiveProfiles(ctx context.Context, maxItems int) ([]model.RiskProfile, error) {
	if maxItems <= 0 {
		maxItems = 100
	}

	var profiles []model.RiskProfile
	err := r.db.WithContext(ctx).
		Where("kill_switch_enabled = ?", false).
		Order("user_id ASC").
		Limit(maxItems).
		Find(&profiles).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "RiskRepository",
			"op":   "FindActiveProfiles",
		}).WithError(err).Error("Failed to fetch active risk profiles")
		return nil, err
	}

	return profiles, nil
}

// CreateAlert appends an immutable risk alert. Alerts are write-only audit
// records and are never mutated afterwards.
func (r *RiskRepository) CreateAlert(ctx context.Context, alert *model.RiskAlert) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "RiskRepository",
		"op":         "CreateAlert",
		"user_id":    alert.UserID,
		"alert_type": alert.AlertType,
	}).Info("Persisting risk alert")

	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "RiskRepository",
			"op":         "CreateAlert",
			"user_id":    alert.UserID,
			"alert_type": alert.AlertType,
		}).WithError(err).Error("Failed to persist risk alert")
		return err
	}

	return nil
}

// FindAlertsByUser returns a user's most recent alerts, newest first.
func (r *RiskRepository) FindAlertsByUser(ctx context.Context, userID uint, limit int) ([]model.RiskAlert, error) {
	if limit <= 0 {
		limit = 20
	}

	var alerts []model.RiskAlert
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "FindAlertsByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch risk alerts")
		return nil, err
	}

	return alerts, nil
}
