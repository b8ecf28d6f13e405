package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

func TestReconcilePendingMergesSnapshots(t *testing.T) {
	trades := newStubTradeStore()

	complete := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		EntryPrice:   100,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-1",
	}
	unknown := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "INFY",
		Side:         model.TradeSideBuy,
		Quantity:     5,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-2",
	}
	assert.NoError(t, trades.Create(context.Background(), complete))
	assert.NoError(t, trades.Create(context.Background(), unknown))
	trades.refs = []repository.PendingTradeRef{
		{ID: complete.ID, UserID: 7, ConnectionID: 11},
		{ID: unknown.ID, UserID: 7, ConnectionID: 11},
	}

	broker := &stubBroker{
		snapshots: map[string]*connectors.OrderSnapshot{
			"BRK-1": {
				OrderID:        "BRK-1",
				Status:         connectors.BrokerStatusComplete,
				FilledQuantity: 10,
				AveragePrice:   101,
			},
		},
	}
	notifier := &stubNotifier{}
	reconciler := NewReconciler(trades, trades, &stubProvider{broker: broker}, notifier, nil)

	summary, err := reconciler.ReconcilePending(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 1, summary.StillOpen)
	assert.Equal(t, 0, summary.Failed)

	assert.Len(t, trades.applied, 1)
	assert.Equal(t, complete.ID, trades.applied[0].tradeID)
	assert.Equal(t, model.OrderStatusExecuted, trades.applied[0].updates["order_status"])
	assert.Equal(t, []uint{7}, notifier.published)
}

func TestReconcilePendingIsolatesBrokerFailures(t *testing.T) {
	trades := newStubTradeStore()

	broken := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "TCS",
		Side:         model.TradeSideBuy,
		Quantity:     1,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-3",
	}
	assert.NoError(t, trades.Create(context.Background(), broken))
	trades.refs = []repository.PendingTradeRef{{ID: broken.ID, UserID: 7, ConnectionID: 11}}

	broker := &stubBroker{statusErr: assert.AnError}
	reconciler := NewReconciler(trades, trades, &stubProvider{broker: broker}, nil, nil)

	summary, err := reconciler.ReconcilePending(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.NotEmpty(t, summary.Details[0].Error)
}

func TestReconcileFromOrdersSnapshot(t *testing.T) {
	trades := newStubTradeStore()

	older := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	filled := model.Trade{
		ID:           1,
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		EntryPrice:   100,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-1",
	}
	missing := model.Trade{
		ID:           2,
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "INFY",
		Side:         model.TradeSideBuy,
		Quantity:     5,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-2",
	}
	unsubmitted := model.Trade{
		ID:           3,
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "SBIN",
		Side:         model.TradeSideBuy,
		Quantity:     8,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPending,
	}
	trades.trades[1] = &filled
	trades.trades[2] = &missing
	trades.trades[3] = &unsubmitted
	trades.userPending = []model.Trade{filled, missing, unsubmitted}

	// The list carries two entries for BRK-1; the newer COMPLETE entry
	// must win over the stale OPEN one.
	broker := &stubBroker{
		orders: []connectors.OrderSnapshot{
			{OrderID: "BRK-1", Status: connectors.BrokerStatusComplete, FilledQuantity: 10, AveragePrice: 102, ExchangeTimestamp: newer},
			{OrderID: "BRK-1", Status: connectors.BrokerStatusOpen, PendingQuantity: 10, ExchangeTimestamp: older},
		},
	}
	reconciler := NewReconciler(trades, trades, &stubProvider{broker: broker}, nil, nil)

	summary, err := reconciler.ReconcileFromOrdersSnapshot(context.Background(), 7, 11)
	assert.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 2, summary.StillOpen)

	// Trades left untouched carry the reason they were skipped.
	byTrade := map[uint]TradeResult{}
	for _, detail := range summary.Details {
		byTrade[detail.TradeID] = detail
	}
	assert.Equal(t, "", byTrade[1].Reason)
	assert.Equal(t, ReasonNotInOrdersSnapshot, byTrade[2].Reason)
	assert.Equal(t, ReasonNoBrokerOrderID, byTrade[3].Reason)

	assert.Len(t, trades.applied, 1)
	assert.Equal(t, uint(1), trades.applied[0].tradeID)
	assert.Equal(t, model.OrderStatusExecuted, trades.applied[0].updates["order_status"])
	assert.Equal(t, float64(102), trades.applied[0].updates["entry_executed_price"])
}

func TestReconcileForUser(t *testing.T) {
	trades := newStubTradeStore()

	pending := model.Trade{
		ID:           5,
		UserID:       9,
		ConnectionID: 12,
		Symbol:       "SBIN",
		Side:         model.TradeSideSell,
		Quantity:     20,
		EntryPrice:   600,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-9",
	}
	trades.trades[5] = &pending
	trades.userPending = []model.Trade{pending}

	broker := &stubBroker{
		snapshots: map[string]*connectors.OrderSnapshot{
			"BRK-9": {
				OrderID:         "BRK-9",
				Status:          connectors.BrokerStatusOpen,
				FilledQuantity:  8,
				PendingQuantity: 12,
				AveragePrice:    601,
			},
		},
	}
	reconciler := NewReconciler(trades, trades, &stubProvider{broker: broker}, nil, nil)

	summary, err := reconciler.ReconcileForUser(context.Background(), 9, 12)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.PartiallyFilled)

	assert.Len(t, trades.applied, 1)
	update := trades.applied[0]
	assert.NotNil(t, update.fillEvent)
	assert.Equal(t, float64(8), update.fillEvent.DeltaQuantity)
}
