package model

import "time"

const (
	RiskAlertKillSwitch         = "kill_switch_enabled"
	RiskAlertMaxPositionValue   = "max_position_value_breach"
	RiskAlertMaxOpenTrades      = "max_open_trades_breach"
	RiskAlertDailyLossBreach    = "daily_loss_breach"
	RiskAlertDailyProfitReached = "daily_profit_target"
)

// RiskAlert is an immutable audit record written every time the risk gate
// blocks a trade or a daily guardrail is breached. Rows are append-only and
// never mutated.
type RiskAlert struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index;not null" json:"user_id"`

	AlertType string `gorm:"size:50;index;not null" json:"alert_type"`
	Message   string `gorm:"size:500" json:"message"`

	// Extra context stored as JSON.
	Metadata string `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (RiskAlert) TableName() string {
	return "risk_alerts"
}
