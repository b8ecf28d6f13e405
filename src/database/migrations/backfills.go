package migrations

import (
	"fmt"

	"tradeengine/src/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// backfillRiskProfiles creates a default risk profile for every user that does
// not have one yet, so the risk gate never has to special-case missing rows for
// accounts that predate the profiles table.
func backfillRiskProfiles(db *gorm.DB) error {
	var users []model.User
	if err := db.Find(&users).Error; err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, user := range users {
		var count int64
		if err := db.Model(&model.RiskProfile{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("count profiles for user %d: %w", user.ID, err)
		}
		if count > 0 {
			continue
		}

		profile := model.RiskProfile{UserID: user.ID}
		if err := db.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile for user %d: %w", user.ID, err)
		}
	}

	return nil
}

// seedUserAPITokens assigns an API token to users created before token
// authentication existed.
func seedUserAPITokens(db *gorm.DB) error {
	var users []model.User
	if err := db.Where("api_token IS NULL OR api_token = ''").Find(&users).Error; err != nil {
		return fmt.Errorf("list users without tokens: %w", err)
	}

	for _, user := range users {
		token := uuid.NewString()
		if err := db.Model(&model.User{}).Where("id = ?", user.ID).Update("api_token", token).Error; err != nil {
			return fmt.Errorf("seed token for user %d: %w", user.ID, err)
		}
	}

	return nil
}

// normalizeLegacyOrderStatuses rewrites trade rows that still carry raw broker
// status strings from before statuses were normalized at merge time.
func normalizeLegacyOrderStatuses(db *gorm.DB) error {
	renames := map[string]string{
		"COMPLETE":        model.OrderStatusExecuted,
		"OPEN":            model.OrderStatusPlaced,
		"TRIGGER PENDING": model.OrderStatusPlaced,
		"REJECTED":        model.OrderStatusRejected,
		"CANCELLED":       model.OrderStatusCancelled,
	}

	for legacy, normalized := range renames {
		if err := db.Model(&model.Trade{}).
			Where("order_status = ?", legacy).
			Update("order_status", normalized).Error; err != nil {
			return fmt.Errorf("normalize order status %q: %w", legacy, err)
		}
	}

	return nil
}
