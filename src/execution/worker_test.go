package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

type stubBroker struct {
	placeOrderID string
	placeErr     error
	placeCalls   int
	placedParams []connectors.OrderParams

	snapshots map[string]*connectors.OrderSnapshot
	statusErr error
	orders    []connectors.OrderSnapshot

	cancelled []string
	cancelErr error
}

func (s *stubBroker) PlaceOrder(_ context.Context, _ string, params connectors.OrderParams) (string, error) {
	s.placeCalls++
	s.placedParams = append(s.placedParams, params)
	if s.placeErr != nil {
		return "", s.placeErr
	}
	return s.placeOrderID, nil
}

func (s *stubBroker) GetLatestOrderState(_ context.Context, _, orderID string) (*connectors.OrderSnapshot, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.snapshots[orderID], nil
}

func (s *stubBroker) GetOrders(_ context.Context, _ string) ([]connectors.OrderSnapshot, error) {
	return s.orders, nil
}

func (s *stubBroker) CancelOrder(_ context.Context, _, orderID string) error {
	s.cancelled = append(s.cancelled, orderID)
	return s.cancelErr
}

type stubProvider struct {
	broker *stubBroker
	err    error
}

func (s *stubProvider) BrokerFor(_ context.Context, _ uint) (connectors.Broker, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.broker, "test-token", nil
}

func enqueueEntryJob(t *testing.T, jobs *stubJobStore, trade *model.Trade) *model.SubmissionJob {
	t.Helper()
	job := &model.SubmissionJob{
		TradeID:      trade.ID,
		UserID:       trade.UserID,
		ConnectionID: trade.ConnectionID,
		Leg:          model.TradeLegEntry,
		Payload:      `{"symbol":"RELIANCE","side":"BUY","quantity":10,"order_kind":"MARKET"}`,
	}
	assert.NoError(t, jobs.Enqueue(context.Background(), job))
	return job
}

func TestWorkerProcessNextEmptyQueue(t *testing.T) {
	worker := NewSubmissionWorker(newStubTradeStore(), &stubJobStore{}, &stubProvider{broker: &stubBroker{}}, nil, nil)

	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerPlacesOrderAndMergesFirstSnapshot(t *testing.T) {
	trades := newStubTradeStore()
	jobs := &stubJobStore{}
	notifier := &stubNotifier{}

	trade := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		EntryPrice:   100,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPending,
	}
	assert.NoError(t, trades.Create(context.Background(), trade))
	job := enqueueEntryJob(t, jobs, trade)

	broker := &stubBroker{
		placeOrderID: "BRK-55",
		snapshots: map[string]*connectors.OrderSnapshot{
			"BRK-55": {
				OrderID:        "BRK-55",
				Status:         connectors.BrokerStatusComplete,
				FilledQuantity: 10,
				AveragePrice:   100.5,
			},
		},
	}
	worker := NewSubmissionWorker(trades, jobs, &stubProvider{broker: broker}, notifier, nil)

	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, 1, broker.placeCalls)
	assert.Equal(t, "RELIANCE", broker.placedParams[0].Symbol)

	// First update persists the broker order id, second applies the merge.
	assert.Len(t, trades.applied, 2)
	assert.Equal(t, "BRK-55", trades.applied[0].updates["entry_order_id"])
	assert.Equal(t, model.OrderStatusPlaced, trades.applied[0].updates["order_status"])
	assert.Equal(t, model.OrderStatusExecuted, trades.applied[1].updates["order_status"])
	assert.Equal(t, 100.5, trades.applied[1].updates["entry_executed_price"])

	assert.Equal(t, []uint{job.ID}, jobs.completed)
	assert.Equal(t, []uint{7}, notifier.published)
}

func TestWorkerResumesWhenOrderAlreadyPlaced(t *testing.T) {
	trades := newStubTradeStore()
	jobs := &stubJobStore{}

	trade := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPlaced,
		EntryOrderID: "BRK-77",
	}
	assert.NoError(t, trades.Create(context.Background(), trade))
	enqueueEntryJob(t, jobs, trade)

	broker := &stubBroker{snapshots: map[string]*connectors.OrderSnapshot{}}
	worker := NewSubmissionWorker(trades, jobs, &stubProvider{broker: broker}, nil, nil)

	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, broker.placeCalls)
	assert.Len(t, jobs.completed, 1)
}

func TestWorkerDropsJobForTerminalTrade(t *testing.T) {
	trades := newStubTradeStore()
	jobs := &stubJobStore{}

	trade := &model.Trade{
		UserID:      7,
		Status:      model.TradeStatusCancelled,
		OrderStatus: model.OrderStatusRejected,
	}
	assert.NoError(t, trades.Create(context.Background(), trade))
	enqueueEntryJob(t, jobs, trade)

	broker := &stubBroker{}
	worker := NewSubmissionWorker(trades, jobs, &stubProvider{broker: broker}, nil, nil)

	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, broker.placeCalls)
	assert.Len(t, jobs.completed, 1)
	assert.Empty(t, trades.applied)
}

func TestWorkerRetriesThenFailsTrade(t *testing.T) {
	trades := newStubTradeStore()
	jobs := &stubJobStore{}
	notifier := &stubNotifier{}

	trade := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPending,
	}
	assert.NoError(t, trades.Create(context.Background(), trade))
	job := enqueueEntryJob(t, jobs, trade)
	job.MaxAttempts = 2

	broker := &stubBroker{placeErr: errors.New("broker unavailable")}
	worker := NewSubmissionWorker(trades, jobs, &stubProvider{broker: broker}, notifier, nil)

	// First attempt: retried, trade untouched.
	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Empty(t, trades.applied)

	// Second attempt exhausts the retries: job failed, trade cancelled.
	processed, err = worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, model.JobStatusFailed, job.Status)

	assert.Len(t, trades.applied, 1)
	update := trades.lastUpdate()
	assert.Equal(t, model.OrderStatusFailed, update.updates["order_status"])
	assert.Equal(t, model.TradeStatusCancelled, update.updates["status"])
	assert.Contains(t, update.updates["entry_status_message"], "broker unavailable")
	assert.Equal(t, []uint{7}, notifier.published)
}

func TestWorkerRequeuesJobAbandonedByDeadWorker(t *testing.T) {
	trades := newStubTradeStore()
	jobs := &stubJobStore{}

	trade := &model.Trade{
		UserID:       7,
		ConnectionID: 11,
		Symbol:       "RELIANCE",
		Side:         model.TradeSideBuy,
		Quantity:     10,
		Status:       model.TradeStatusOpen,
		OrderStatus:  model.OrderStatusPending,
	}
	assert.NoError(t, trades.Create(context.Background(), trade))
	job := enqueueEntryJob(t, jobs, trade)

	// Another worker claimed the job and died before finishing it.
	claimed, err := jobs.DequeueNext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)

	broker := &stubBroker{
		placeOrderID: "BRK-77",
		snapshots:    map[string]*connectors.OrderSnapshot{},
	}
	worker := NewSubmissionWorker(trades, jobs, &stubProvider{broker: broker}, nil, nil)

	// The stuck job is invisible until the stale sweep puts it back.
	processed, err := worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.False(t, processed)

	worker.requeueStale(context.Background())

	processed, err = worker.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, broker.placeCalls)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}
