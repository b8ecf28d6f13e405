package execution

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/audit"
	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// PendingSource lists trades whose in-flight order still needs polling.
type PendingSource interface {
	FindPendingForReconciliation(ctx context.Context, maxItems int) ([]repository.PendingTradeRef, error)
	FindPendingForUser(ctx context.Context, userID, connectionID uint, maxItems int) ([]model.Trade, error)
}

// TradeResult is the per-trade outcome of one reconciliation pass. Reason is
// set when the pass could not settle the trade and says why it was left
// as-is.
type TradeResult struct {
	TradeID     uint   `json:"trade_id"`
	Leg         string `json:"leg"`
	OrderStatus string `json:"order_status"`
	TradeStatus string `json:"trade_status"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Reasons a reconciliation pass leaves a trade untouched.
const (
	ReasonNoBrokerOrderID      = "no-broker-order-id"
	ReasonNotInOrdersSnapshot  = "not-found-in-orders-snapshot"
	ReasonOrderUnknownAtBroker = "order-unknown-at-broker"
)

// Summary aggregates one reconciliation pass.
type Summary struct {
	Processed       int           `json:"processed"`
	Executed        int           `json:"executed"`
	PartiallyFilled int           `json:"partially_filled"`
	Rejected        int           `json:"rejected"`
	Cancelled       int           `json:"cancelled"`
	StillOpen       int           `json:"still_open"`
	Failed          int           `json:"failed"`
	Details         []TradeResult `json:"details,omitempty"`
}

func (s *Summary) record(result TradeResult) {
	s.Processed++
	s.Details = append(s.Details, result)

	if result.Error != "" {
		s.Failed++
		return
	}
	switch result.OrderStatus {
	case model.OrderStatusExecuted:
		s.Executed++
	case model.OrderStatusPartiallyFilled:
		s.PartiallyFilled++
	case model.OrderStatusRejected:
		s.Rejected++
	case model.OrderStatusCancelled:
		s.Cancelled++
	default:
		s.StillOpen++
	}
}

// Reconciler owns the safety net of the lifecycle: it re-polls every live
// order the broker still considers non-terminal and folds the snapshots in
// through the same merge the worker uses. One trade failing never stops the
// pass.
type Reconciler struct {
	trades     TradeStore
	pending    PendingSource
	provider   BrokerProvider
	notifier   TradeNotifier
	exceptions *repository.ExceptionRepository
	config     Config
}

func NewReconciler(
	trades TradeStore,
	pending PendingSource,
	provider BrokerProvider,
	notifier TradeNotifier,
	exceptions *repository.ExceptionRepository,
) *Reconciler {
	return &Reconciler{
		trades:     trades,
		pending:    pending,
		provider:   provider,
		notifier:   notifier,
		exceptions: exceptions,
		config:     GetConfig(),
	}
}

// RunSweep runs periodic reconciliation passes until the context is
// cancelled.
func (r *Reconciler) RunSweep(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"module": "reconciler",
		"period": r.config.ReconcilerPeriod.String(),
		"batch":  r.config.ReconcilerBatchSize,
	}).Info("reconciliation sweeper started")

	ticker := time.NewTicker(r.config.ReconcilerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			summary, err := r.ReconcilePending(ctx)
			if err != nil {
				logger.WithError(err).Error("reconciliation pass failed")
				continue
			}
			if summary.Processed > 0 {
				logger.WithFields(map[string]interface{}{
					"module":           "reconciler",
					"processed":        summary.Processed,
					"executed":         summary.Executed,
					"partially_filled": summary.PartiallyFilled,
					"rejected":         summary.Rejected,
					"cancelled":        summary.Cancelled,
					"still_open":       summary.StillOpen,
					"failed":           summary.Failed,
				}).Info("reconciliation pass finished")
			}
		}
	}
}

// ReconcilePending reconciles the oldest batch of live trades across all
// users, one broker call per trade.
func (r *Reconciler) ReconcilePending(ctx context.Context) (*Summary, error) {
	refs, err := r.pending.FindPendingForReconciliation(ctx, r.config.ReconcilerBatchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.record(r.reconcileOne(ctx, ref.ID))
	}
	return summary, nil
}

// ReconcileForUser reconciles one user's live trades on demand, optionally
// scoped to a single broker connection. Backs the manual reconcile API.
func (r *Reconciler) ReconcileForUser(ctx context.Context, userID, connectionID uint) (*Summary, error) {
	trades, err := r.pending.FindPendingForUser(ctx, userID, connectionID, r.config.ReconcilerBatchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i := range trades {
		summary.record(r.reconcileTrade(ctx, &trades[i], nil))
	}
	return summary, nil
}

// ReconcileFromOrdersSnapshot fetches the broker's full order list once and
// reconciles every live trade of the user against it. Orders the broker no
// longer reports are left open for the per-order path to settle.
func (r *Reconciler) ReconcileFromOrdersSnapshot(ctx context.Context, userID, connectionID uint) (*Summary, error) {
	broker, token, err := r.provider.BrokerFor(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	orders, err := broker.GetOrders(ctx, token)
	if err != nil {
		return nil, err
	}

	// The list can contain several entries per order id; keep the most
	// recent one.
	index := make(map[string]connectors.OrderSnapshot, len(orders))
	for _, snap := range orders {
		existing, ok := index[snap.OrderID]
		if !ok || snapshotTime(snap).After(snapshotTime(existing)) {
			index[snap.OrderID] = snap
		}
	}

	trades, err := r.pending.FindPendingForUser(ctx, userID, connectionID, r.config.ReconcilerBatchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i := range trades {
		trade := &trades[i]
		leg := trade.ActiveLeg()
		orderID := legOrderID(trade, leg)
		if orderID == "" {
			// Still waiting on the submission worker for a broker order id.
			summary.record(TradeResult{
				TradeID:     trade.ID,
				Leg:         leg,
				OrderStatus: trade.OrderStatus,
				TradeStatus: trade.Status,
				Reason:      ReasonNoBrokerOrderID,
			})
			continue
		}

		snap, ok := index[orderID]
		if !ok {
			summary.record(TradeResult{
				TradeID:     trade.ID,
				Leg:         leg,
				OrderStatus: trade.OrderStatus,
				TradeStatus: trade.Status,
				Reason:      ReasonNotInOrdersSnapshot,
			})
			continue
		}
		summary.record(r.applySnapshot(ctx, trade, leg, &snap))
	}
	return summary, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, tradeID uint) TradeResult {
	trade, err := r.trades.FindByID(ctx, tradeID)
	if err != nil {
		return TradeResult{TradeID: tradeID, Error: err.Error()}
	}
	if trade == nil {
		return TradeResult{TradeID: tradeID, Error: "trade not found"}
	}
	return r.reconcileTrade(ctx, trade, nil)
}

// reconcileTrade polls the broker for the trade's in-flight order and
// merges the snapshot. A pre-fetched snapshot can be passed to skip the
// broker call.
func (r *Reconciler) reconcileTrade(ctx context.Context, trade *model.Trade, snap *connectors.OrderSnapshot) TradeResult {
	leg := trade.ActiveLeg()
	orderID := legOrderID(trade, leg)
	if orderID == "" {
		// Still waiting on the submission worker.
		return TradeResult{TradeID: trade.ID, Leg: leg, OrderStatus: trade.OrderStatus, TradeStatus: trade.Status, Reason: ReasonNoBrokerOrderID}
	}

	if snap == nil {
		broker, token, err := r.provider.BrokerFor(ctx, trade.ConnectionID)
		if err != nil {
			r.capture(ctx, trade.ID, err)
			return TradeResult{TradeID: trade.ID, Leg: leg, Error: err.Error()}
		}

		snap, err = broker.GetLatestOrderState(ctx, token, orderID)
		if err != nil {
			r.capture(ctx, trade.ID, err)
			return TradeResult{TradeID: trade.ID, Leg: leg, Error: err.Error()}
		}
	}

	if snap == nil {
		// Broker does not know the order yet; try again next pass.
		return TradeResult{TradeID: trade.ID, Leg: leg, OrderStatus: trade.OrderStatus, TradeStatus: trade.Status, Reason: ReasonOrderUnknownAtBroker}
	}

	return r.applySnapshot(ctx, trade, leg, snap)
}

func (r *Reconciler) applySnapshot(ctx context.Context, trade *model.Trade, leg string, snap *connectors.OrderSnapshot) TradeResult {
	outcome := ApplyOrderSnapshot(trade, leg, snap, time.Now())
	if outcome.Changed() {
		if err := r.trades.ApplyUpdates(ctx, trade.ID, outcome.Updates, outcome.FillEvent); err != nil {
			r.capture(ctx, trade.ID, err)
			return TradeResult{TradeID: trade.ID, Leg: leg, Error: err.Error()}
		}
		if r.notifier != nil {
			r.notifier.PublishTradeUpdate(trade.UserID, trade)
		}
	}

	return TradeResult{
		TradeID:     trade.ID,
		Leg:         leg,
		OrderStatus: outcome.OrderStatus,
		TradeStatus: outcome.TradeStatus,
	}
}

func (r *Reconciler) capture(ctx context.Context, tradeID uint, err error) {
	audit.Capture(ctx, r.exceptions, serviceName, "reconciler", "reconcileTrade", "error", err,
		map[string]interface{}{"trade_id": tradeID})
}

func snapshotTime(snap connectors.OrderSnapshot) time.Time {
	if !snap.ExchangeTimestamp.IsZero() {
		return snap.ExchangeTimestamp
	}
	return snap.OrderTimestamp
}

func legOrderID(trade *model.Trade, leg string) string {
	if leg == model.TradeLegExit {
		return trade.ExitOrderID
	}
	return trade.EntryOrderID
}

var _ PendingSource = (*repository.TradeRepository)(nil)
