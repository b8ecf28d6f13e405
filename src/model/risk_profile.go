package model

import "time"

// RiskProfile holds the pre-trade risk limits for one user. Profiles are
// created lazily with all-zero defaults on first access; a limit of zero
// means the corresponding check is disabled.
type RiskProfile struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	KillSwitchEnabled bool   `gorm:"index" json:"kill_switch_enabled"`
	KillSwitchReason  string `gorm:"size:255" json:"kill_switch_reason,omitempty"`

	MaxPositionValuePerTrade float64 `json:"max_position_value_per_trade"`
	MaxDailyLoss             float64 `json:"max_daily_loss"`
	MaxDailyProfit           float64 `json:"max_daily_profit"`
	MaxOpenTradesPerAgent    int     `json:"max_open_trades_per_agent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskProfile) TableName() string {
	return "risk_profiles"
}
