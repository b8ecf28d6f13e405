package model

import "time"

const (
	TradeStatusOpen      = "open"
	TradeStatusClosed    = "closed"
	TradeStatusCancelled = "cancelled"
)

const (
	OrderStatusPending         = "pending"
	OrderStatusPlaced          = "placed"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusExecuted        = "executed"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
	OrderStatusFailed          = "failed"
)

const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

const (
	OrderKindMarket     = "MARKET"
	OrderKindLimit      = "LIMIT"
	OrderKindStop       = "SL"
	OrderKindStopMarket = "SL-M"
)

const (
	TradeLegEntry = "entry"
	TradeLegExit  = "exit"
)

// Trade represents a single directional trade intent and its full order
// lifecycle against the broker. Rows are never deleted; cancellation is a
// terminal status.
type Trade struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	UserID       uint `gorm:"index" json:"user_id"`
	AgentID      uint `gorm:"index" json:"agent_id"`
	ConnectionID uint `gorm:"index" json:"connection_id"`

	Symbol         string   `gorm:"size:50;index" json:"symbol"`
	Side           string   `gorm:"size:10" json:"side"`
	Quantity       float64  `json:"quantity"`
	OrderKind      string   `gorm:"size:20;default:MARKET" json:"order_kind"`
	RequestedPrice float64  `json:"requested_price"`
	StopLoss       *float64 `json:"stop_loss,omitempty"`
	TakeProfit     *float64 `json:"take_profit,omitempty"`

	// Trade-level lifecycle crossed with the order-processing status of the
	// in-flight leg: entry until the exit leg is submitted, exit afterwards.
	Status      string `gorm:"size:20;not null;default:open;index" json:"status"`
	OrderStatus string `gorm:"size:30;not null;default:pending;index" json:"order_status"`

	// Entry leg.
	EntryOrderID       string     `gorm:"size:100;index" json:"entry_order_id,omitempty"`
	EntryPrice         float64    `json:"entry_price"`
	EntryExecutedPrice *float64   `json:"entry_executed_price,omitempty"`
	EntryTime          *time.Time `json:"entry_time,omitempty"`

	// Exit leg.
	ExitOrderID       string     `gorm:"size:100;index" json:"exit_order_id,omitempty"`
	ExitPrice         *float64   `json:"exit_price,omitempty"`
	ExitExecutedPrice *float64   `json:"exit_executed_price,omitempty"`
	ExitTime          *time.Time `json:"exit_time,omitempty"`
	ExitReason        string     `gorm:"size:255" json:"exit_reason,omitempty"`

	// Last known fill-progress snapshot per leg, refreshed by the submission
	// worker and the reconciliation sweeper.
	EntryFilledQuantity  float64    `json:"entry_filled_quantity"`
	EntryPendingQuantity float64    `json:"entry_pending_quantity"`
	EntryStatusMessage   string     `gorm:"size:255" json:"entry_status_message,omitempty"`
	EntryLastSyncAt      *time.Time `json:"entry_last_sync_at,omitempty"`
	ExitFilledQuantity   float64    `json:"exit_filled_quantity"`
	ExitPendingQuantity  float64    `json:"exit_pending_quantity"`
	ExitStatusMessage    string     `gorm:"size:255" json:"exit_status_message,omitempty"`
	ExitLastSyncAt       *time.Time `json:"exit_last_sync_at,omitempty"`

	// Economics. Realized/net P&L is computed once at exit execution from
	// authoritative average prices, never backfilled from estimates.
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Fees          float64 `json:"fees"`
	NetPnL        float64 `json:"net_pnl"`

	// Paper trades skip the queue and the real broker entirely.
	Paper bool `gorm:"index" json:"paper"`

	// Free-form diagnostic annotations, serialized JSON.
	Metadata string `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FillEvents []TradeFillEvent `gorm:"foreignKey:TradeID" json:"fill_events,omitempty"`
}

func (Trade) TableName() string {
	return "trades"
}

// ActiveLeg returns which leg the current OrderStatus refers to.
func (t *Trade) ActiveLeg() string {
	if t.ExitOrderID != "" {
		return TradeLegExit
	}
	return TradeLegEntry
}

// IsOrderTerminal reports whether the order-processing status can no longer
// advance on its own.
func IsOrderTerminal(status string) bool {
	switch status {
	case OrderStatusExecuted, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}
