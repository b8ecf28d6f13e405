package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

func newOpenTrade() *model.Trade {
	return &model.Trade{
		ID:           42,
		UserID:       7,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		EntryPrice:   100,
		EntryOrderID: "BRK-1001",
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
	}
}

func TestNormalizeOrderStatus(t *testing.T) {
	assert.Equal(t, model.OrderStatusExecuted, NormalizeOrderStatus("COMPLETE", 10, 0))
	assert.Equal(t, model.OrderStatusRejected, NormalizeOrderStatus("rejected", 0, 0))
	assert.Equal(t, model.OrderStatusCancelled, NormalizeOrderStatus("CANCELLED", 0, 10))
	assert.Equal(t, model.OrderStatusCancelled, NormalizeOrderStatus("CANCELED", 0, 10))
	assert.Equal(t, model.OrderStatusPartiallyFilled, NormalizeOrderStatus("OPEN", 4, 6))
	assert.Equal(t, model.OrderStatusPlaced, NormalizeOrderStatus("OPEN", 0, 10))
	assert.Equal(t, model.OrderStatusPartiallyFilled, NormalizeOrderStatus("TRIGGER PENDING", 1, 9))
	assert.Equal(t, "", NormalizeOrderStatus("VALIDATION PENDING", 0, 10))
}

func TestApplyOrderSnapshotPartialFillIsIdempotent(t *testing.T) {
	trade := newOpenTrade()
	now := time.Now()

	snap := &connectors.OrderSnapshot{
		OrderID:         "BRK-1001",
		Status:          connectors.BrokerStatusOpen,
		FilledQuantity:  4,
		PendingQuantity: 6,
		AveragePrice:    100.5,
	}

	first := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, now)
	assert.Equal(t, model.OrderStatusPartiallyFilled, first.OrderStatus)
	assert.NotNil(t, first.FillEvent)
	assert.Equal(t, float64(4), first.FillEvent.DeltaQuantity)
	assert.Equal(t, float64(4), first.FillEvent.FilledQuantity)
	assert.Equal(t, float64(6), first.FillEvent.PendingQuantity)
	assert.Equal(t, float64(4), trade.EntryFilledQuantity)

	// Replaying the exact same snapshot must not produce a second rollup
	// entry or change any fill counter.
	second := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, now.Add(time.Minute))
	assert.Nil(t, second.FillEvent)
	assert.NotContains(t, second.Updates, "entry_filled_quantity")
	assert.Equal(t, float64(4), trade.EntryFilledQuantity)
}

func TestApplyOrderSnapshotClampsRegressedFill(t *testing.T) {
	trade := newOpenTrade()
	trade.OrderStatus = model.OrderStatusPartiallyFilled
	trade.EntryFilledQuantity = 5
	trade.EntryPendingQuantity = 5

	snap := &connectors.OrderSnapshot{
		OrderID:         "BRK-1001",
		Status:          connectors.BrokerStatusOpen,
		FilledQuantity:  4,
		PendingQuantity: 5,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, time.Now())
	assert.Nil(t, outcome.FillEvent)
	assert.Equal(t, float64(5), trade.EntryFilledQuantity)
}

func TestApplyOrderSnapshotClampsFillToRequestedQuantity(t *testing.T) {
	trade := newOpenTrade()

	snap := &connectors.OrderSnapshot{
		OrderID:         "BRK-1001",
		Status:          connectors.BrokerStatusOpen,
		FilledQuantity:  12,
		PendingQuantity: 1,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, time.Now())
	assert.NotNil(t, outcome.FillEvent)
	assert.Equal(t, float64(10), outcome.FillEvent.FilledQuantity)
	assert.Equal(t, float64(10), trade.EntryFilledQuantity)
}

func TestApplyOrderSnapshotEntryCompletion(t *testing.T) {
	trade := newOpenTrade()
	executedAt := time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC)

	snap := &connectors.OrderSnapshot{
		OrderID:           "BRK-1001",
		Status:            connectors.BrokerStatusComplete,
		FilledQuantity:    10,
		PendingQuantity:   0,
		AveragePrice:      101.25,
		ExchangeTimestamp: executedAt,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, time.Now())
	assert.Equal(t, model.OrderStatusExecuted, outcome.OrderStatus)
	assert.Equal(t, model.TradeStatusOpen, outcome.TradeStatus)
	assert.False(t, outcome.Closed)
	assert.Equal(t, 101.25, outcome.Updates["entry_executed_price"])
	assert.Equal(t, executedAt, outcome.Updates["entry_time"])
	assert.Equal(t, CompleteStatusMessage, outcome.Updates["entry_status_message"])
	assert.NotNil(t, outcome.FillEvent)
	assert.Equal(t, float64(10), outcome.FillEvent.FilledQuantity)
}

func TestApplyOrderSnapshotExitCompletionRealizesPnL(t *testing.T) {
	now := time.Now()

	t.Run("buy side", func(t *testing.T) {
		trade := newOpenTrade()
		trade.Quantity = 5
		entryPrice := 100.0
		trade.EntryExecutedPrice = &entryPrice
		trade.ExitOrderID = "BRK-2002"
		trade.OrderStatus = model.OrderStatusPlaced

		snap := &connectors.OrderSnapshot{
			OrderID:        "BRK-2002",
			Status:         connectors.BrokerStatusComplete,
			FilledQuantity: 5,
			AveragePrice:   110,
		}

		outcome := ApplyOrderSnapshot(trade, model.TradeLegExit, snap, now)
		assert.True(t, outcome.Closed)
		assert.Equal(t, model.TradeStatusClosed, outcome.TradeStatus)
		assert.Equal(t, float64(50), outcome.Updates["realized_pnl"])
		assert.Equal(t, float64(50), outcome.Updates["net_pnl"])
		assert.Equal(t, float64(0), outcome.Updates["unrealized_pnl"])
	})

	t.Run("sell side", func(t *testing.T) {
		trade := newOpenTrade()
		trade.Side = model.TradeSideSell
		trade.Quantity = 5
		entryPrice := 110.0
		trade.EntryExecutedPrice = &entryPrice
		trade.ExitOrderID = "BRK-2003"
		trade.OrderStatus = model.OrderStatusPlaced

		snap := &connectors.OrderSnapshot{
			OrderID:        "BRK-2003",
			Status:         connectors.BrokerStatusComplete,
			FilledQuantity: 5,
			AveragePrice:   100,
		}

		outcome := ApplyOrderSnapshot(trade, model.TradeLegExit, snap, now)
		assert.True(t, outcome.Closed)
		assert.Equal(t, float64(50), outcome.Updates["realized_pnl"])
	})
}

func TestApplyOrderSnapshotExitPricePreference(t *testing.T) {
	trade := newOpenTrade()
	entryPrice := 100.0
	trade.EntryExecutedPrice = &entryPrice
	trade.ExitOrderID = "BRK-2004"
	trade.OrderStatus = model.OrderStatusPlaced
	requestedExit := 108.0
	trade.ExitPrice = &requestedExit

	// Broker reports no average price: fall back to the requested exit price.
	snap := &connectors.OrderSnapshot{
		OrderID:        "BRK-2004",
		Status:         connectors.BrokerStatusComplete,
		FilledQuantity: 10,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegExit, snap, time.Now())
	assert.Equal(t, 108.0, outcome.Updates["exit_executed_price"])
	assert.Equal(t, float64(80), outcome.Updates["realized_pnl"])
}

func TestApplyOrderSnapshotEntryRejectionCancelsTrade(t *testing.T) {
	trade := newOpenTrade()
	trade.OrderStatus = model.OrderStatusPartiallyFilled
	trade.EntryFilledQuantity = 3
	trade.EntryPendingQuantity = 7

	snap := &connectors.OrderSnapshot{
		OrderID:       "BRK-1001",
		Status:        connectors.BrokerStatusRejected,
		StatusMessage: "Insufficient funds",
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, time.Now())
	assert.Equal(t, model.OrderStatusRejected, outcome.OrderStatus)
	assert.Equal(t, model.TradeStatusCancelled, outcome.TradeStatus)
	assert.Contains(t, outcome.Updates["entry_status_message"], "Insufficient funds")
	assert.Contains(t, outcome.Updates["entry_status_message"], "filled 3 of 10")
	// Earlier fill progress survives the cancellation.
	assert.Equal(t, float64(3), trade.EntryFilledQuantity)
}

func TestApplyOrderSnapshotExitCancellationLeavesTradeOpen(t *testing.T) {
	trade := newOpenTrade()
	trade.ExitOrderID = "BRK-2005"
	trade.OrderStatus = model.OrderStatusPlaced

	snap := &connectors.OrderSnapshot{
		OrderID: "BRK-2005",
		Status:  connectors.BrokerStatusCancelled,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegExit, snap, time.Now())
	assert.Equal(t, model.OrderStatusCancelled, outcome.OrderStatus)
	assert.Equal(t, model.TradeStatusOpen, outcome.TradeStatus)
	assert.NotContains(t, outcome.Updates, "status")
}

func TestApplyOrderSnapshotNeverOverwritesTerminalStatus(t *testing.T) {
	trade := newOpenTrade()
	trade.OrderStatus = model.OrderStatusExecuted
	trade.Status = model.TradeStatusClosed

	// A stale replay claiming the order is still open must be a no-op.
	snap := &connectors.OrderSnapshot{
		OrderID:         "BRK-1001",
		Status:          connectors.BrokerStatusOpen,
		FilledQuantity:  4,
		PendingQuantity: 6,
	}

	outcome := ApplyOrderSnapshot(trade, model.TradeLegEntry, snap, time.Now())
	assert.False(t, outcome.Changed())
	assert.Equal(t, model.OrderStatusExecuted, trade.OrderStatus)
}

func TestComputeRealizedPnLSigns(t *testing.T) {
	assert.Equal(t, float64(50), ComputeRealizedPnL(model.TradeSideBuy, 100, 110, 5))
	assert.Equal(t, float64(-50), ComputeRealizedPnL(model.TradeSideBuy, 110, 100, 5))
	assert.Equal(t, float64(50), ComputeRealizedPnL(model.TradeSideSell, 110, 100, 5))
	assert.Equal(t, float64(-50), ComputeRealizedPnL(model.TradeSideSell, 100, 110, 5))
}
