package model

import "time"

// MaxFillEventsPerTrade bounds the rollup log kept per trade. Older entries
// are trimmed when new fill progress is recorded.
const MaxFillEventsPerTrade = 50

// TradeFillEvent is one entry of the append-only fill rollup log. A row is
// written only when the broker reports new fill progress (or a changed
// pending quantity), which makes the log usable as an idempotence check:
// replaying an identical snapshot produces no new row.
type TradeFillEvent struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	TradeID       uint   `gorm:"index;not null" json:"trade_id"`
	Leg           string `gorm:"size:10;not null" json:"leg"`
	BrokerOrderID string `gorm:"size:100;index" json:"broker_order_id"`

	DeltaQuantity   float64 `json:"delta_quantity"`
	FilledQuantity  float64 `json:"filled_quantity"`
	PendingQuantity float64 `json:"pending_quantity"`
	AveragePrice    float64 `json:"average_price"`

	CreatedAt time.Time `json:"created_at"`
}

func (TradeFillEvent) TableName() string {
	return "trade_fill_events"
}
