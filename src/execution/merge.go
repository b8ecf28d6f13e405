package execution

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

// CompleteStatusMessage is stamped on a leg's fill snapshot when the broker
// reports the order fully executed.
const CompleteStatusMessage = "COMPLETE"

// statusRank orders the order-processing statuses so that a stale broker
// snapshot can never move a trade backwards. Terminal statuses share the
// highest rank and are never overwritten.
var statusRank = map[string]int{
	model.OrderStatusPending:         0,
	model.OrderStatusPlaced:          1,
	model.OrderStatusPartiallyFilled: 2,
	model.OrderStatusExecuted:        3,
	model.OrderStatusCancelled:       3,
	model.OrderStatusRejected:        3,
	model.OrderStatusFailed:          3,
}

// NormalizeOrderStatus maps the broker's status vocabulary onto the internal
// order-processing statuses. An empty result means the snapshot carries no
// status the merge should act on.
func NormalizeOrderStatus(brokerStatus string, filledQuantity, pendingQuantity float64) string {
	switch strings.ToUpper(strings.TrimSpace(brokerStatus)) {
	case "COMPLETE":
		return model.OrderStatusExecuted
	case "REJECTED":
		return model.OrderStatusRejected
	case "CANCELLED", "CANCELED":
		return model.OrderStatusCancelled
	case "OPEN", "TRIGGER PENDING":
		if filledQuantity > 0 && pendingQuantity > 0 {
			return model.OrderStatusPartiallyFilled
		}
		return model.OrderStatusPlaced
	default:
		return ""
	}
}

// MergeOutcome describes the targeted updates one broker snapshot produces
// for one trade. Updates keys are column names; FillEvent is nil unless the
// snapshot carried new fill progress.
type MergeOutcome struct {
	OrderStatus string
	TradeStatus string
	Closed      bool
	Updates     map[string]interface{}
	FillEvent   *model.TradeFillEvent
}

// Changed reports whether applying the outcome would touch the trade at all.
func (o *MergeOutcome) Changed() bool {
	return len(o.Updates) > 0 || o.FillEvent != nil
}

// ApplyOrderSnapshot merges a broker point-in-time snapshot into the given
// leg of a trade. The function is pure: it never writes, it only computes
// the field-level updates the caller persists. It is safe to invoke any
// number of times with the same or stale snapshot: deltas clamp at zero,
// rollup entries are only produced on new progress, and terminal statuses
// are never overwritten.
func ApplyOrderSnapshot(trade *model.Trade, leg string, snap *connectors.OrderSnapshot, now time.Time) *MergeOutcome {
	outcome := &MergeOutcome{
		OrderStatus: trade.OrderStatus,
		TradeStatus: trade.Status,
		Updates:     map[string]interface{}{},
	}

	if snap == nil {
		return outcome
	}

	// Terminal local state always wins over whatever the broker replays.
	if model.IsOrderTerminal(trade.OrderStatus) {
		return outcome
	}

	normalized := NormalizeOrderStatus(snap.Status, snap.FilledQuantity, snap.PendingQuantity)

	switch normalized {
	case model.OrderStatusExecuted:
		mergeCompletion(trade, leg, snap, now, outcome)
	case model.OrderStatusRejected, model.OrderStatusCancelled:
		mergeTerminalFailure(trade, leg, snap, normalized, now, outcome)
	case model.OrderStatusPartiallyFilled:
		mergeFillProgress(trade, leg, snap.FilledQuantity, snap.PendingQuantity, snap.AveragePrice, snap.StatusMessage, now, outcome)
		advanceOrderStatus(trade, model.OrderStatusPartiallyFilled, outcome)
	case model.OrderStatusPlaced:
		mergeFillProgress(trade, leg, snap.FilledQuantity, snap.PendingQuantity, snap.AveragePrice, snap.StatusMessage, now, outcome)
		advanceOrderStatus(trade, model.OrderStatusPlaced, outcome)
	default:
		// Unknown broker status: leave the trade untouched beyond the
		// fill snapshot refresh.
		mergeFillProgress(trade, leg, snap.FilledQuantity, snap.PendingQuantity, snap.AveragePrice, snap.StatusMessage, now, outcome)
	}

	return outcome
}

// mergeFillProgress folds the broker's fill counters into the leg snapshot
// and emits a rollup entry only when there is new fill progress or the
// pending quantity changed. Filled quantity is monotonic and clamped to the
// requested quantity.
func mergeFillProgress(trade *model.Trade, leg string, filled, pending, averagePrice float64, statusMessage string, now time.Time, outcome *MergeOutcome) {
	prevFilled, prevPending := legFillState(trade, leg)

	if filled > trade.Quantity {
		filled = trade.Quantity
	}

	delta := filled - prevFilled
	if delta < 0 {
		// Broker regression: never report a negative delta, never shrink
		// the recorded fill.
		delta = 0
		filled = prevFilled
	}

	progressed := delta > 0 || pending != prevPending

	prefix := legColumnPrefix(leg)
	outcome.Updates[prefix+"_last_sync_at"] = now
	if statusMessage != "" {
		outcome.Updates[prefix+"_status_message"] = statusMessage
	}

	if !progressed {
		return
	}

	outcome.Updates[prefix+"_filled_quantity"] = filled
	outcome.Updates[prefix+"_pending_quantity"] = pending

	brokerOrderID := trade.EntryOrderID
	if leg == model.TradeLegExit {
		brokerOrderID = trade.ExitOrderID
	}

	outcome.FillEvent = &model.TradeFillEvent{
		TradeID:         trade.ID,
		Leg:             leg,
		BrokerOrderID:   brokerOrderID,
		DeltaQuantity:   delta,
		FilledQuantity:  filled,
		PendingQuantity: pending,
		AveragePrice:    averagePrice,
		CreatedAt:       now,
	}

	// Keep the in-memory trade coherent for callers that chain merges.
	setLegFillState(trade, leg, filled, pending)
}

// mergeCompletion treats the broker's COMPLETE as a partial-fill merge to
// the full requested quantity, then stamps execution price/time and, for an
// exit leg, realizes P&L and closes the trade.
func mergeCompletion(trade *model.Trade, leg string, snap *connectors.OrderSnapshot, now time.Time, outcome *MergeOutcome) {
	mergeFillProgress(trade, leg, trade.Quantity, 0, snap.AveragePrice, CompleteStatusMessage, now, outcome)

	prefix := legColumnPrefix(leg)
	outcome.Updates[prefix+"_status_message"] = CompleteStatusMessage

	executedAt := snap.ExchangeTimestamp
	if executedAt.IsZero() {
		executedAt = now
	}

	advanceOrderStatus(trade, model.OrderStatusExecuted, outcome)

	if leg == model.TradeLegEntry {
		price := resolvePrice(snap.AveragePrice, trade.EntryExecutedPrice, trade.EntryPrice)
		outcome.Updates["entry_executed_price"] = price
		outcome.Updates["entry_time"] = executedAt
		trade.EntryExecutedPrice = &price
		return
	}

	exitPrice := resolvePrice(snap.AveragePrice, trade.ExitExecutedPrice, fallbackExitPrice(trade))
	entryPrice := resolvePrice(0, trade.EntryExecutedPrice, trade.EntryPrice)

	realized := ComputeRealizedPnL(trade.Side, entryPrice, exitPrice, trade.Quantity)
	net := realized - trade.Fees

	outcome.Updates["exit_executed_price"] = exitPrice
	outcome.Updates["exit_time"] = executedAt
	outcome.Updates["realized_pnl"] = realized
	outcome.Updates["net_pnl"] = net
	outcome.Updates["unrealized_pnl"] = float64(0)
	outcome.Updates["status"] = model.TradeStatusClosed

	outcome.TradeStatus = model.TradeStatusClosed
	outcome.Closed = true
	trade.ExitExecutedPrice = &exitPrice
	trade.Status = model.TradeStatusClosed
}

// mergeTerminalFailure applies a broker rejection/cancellation. An entry-leg
// failure cancels the whole trade; an exit-leg failure only marks the order
// status and leaves the trade open for a future exit attempt. Any fill
// recorded before the failure is preserved for audit.
func mergeTerminalFailure(trade *model.Trade, leg string, snap *connectors.OrderSnapshot, normalized string, now time.Time, outcome *MergeOutcome) {
	prefix := legColumnPrefix(leg)

	message := snap.StatusMessage
	if message == "" {
		message = fmt.Sprintf("broker reported %s", normalized)
	}
	prevFilled, _ := legFillState(trade, leg)
	if prevFilled > 0 {
		message = fmt.Sprintf("%s (filled %v of %v before terminal state)", message, prevFilled, trade.Quantity)
	}

	outcome.Updates[prefix+"_status_message"] = message
	outcome.Updates[prefix+"_last_sync_at"] = now

	advanceOrderStatus(trade, normalized, outcome)

	if leg == model.TradeLegEntry {
		outcome.Updates["status"] = model.TradeStatusCancelled
		outcome.TradeStatus = model.TradeStatusCancelled
		trade.Status = model.TradeStatusCancelled
	}
}

func advanceOrderStatus(trade *model.Trade, next string, outcome *MergeOutcome) {
	if next == trade.OrderStatus {
		return
	}
	if statusRank[next] < statusRank[trade.OrderStatus] {
		return
	}

	outcome.Updates["order_status"] = next
	outcome.OrderStatus = next
	trade.OrderStatus = next
}

// resolvePrice prefers the broker-reported average price when it is finite
// and positive, then the previously recorded executed price, then the
// original requested price as last resort.
func resolvePrice(averagePrice float64, recorded *float64, fallback float64) float64 {
	if averagePrice > 0 && !math.IsInf(averagePrice, 0) && !math.IsNaN(averagePrice) {
		return averagePrice
	}
	if recorded != nil && *recorded > 0 {
		return *recorded
	}
	return fallback
}

func fallbackExitPrice(trade *model.Trade) float64 {
	if trade.ExitPrice != nil && *trade.ExitPrice > 0 {
		return *trade.ExitPrice
	}
	return trade.EntryPrice
}

// ComputeRealizedPnL applies the side convention: buy-opened trades profit
// when exit > entry, sell-opened (short) trades profit when entry > exit.
func ComputeRealizedPnL(side string, entryPrice, exitPrice, quantity float64) float64 {
	if side == model.TradeSideSell {
		return (entryPrice - exitPrice) * quantity
	}
	return (exitPrice - entryPrice) * quantity
}

// ComputeUnrealizedPnL marks an open position to the given price.
func ComputeUnrealizedPnL(side string, entryPrice, markPrice, quantity float64) float64 {
	return ComputeRealizedPnL(side, entryPrice, markPrice, quantity)
}

func legColumnPrefix(leg string) string {
	if leg == model.TradeLegExit {
		return "exit"
	}
	return "entry"
}

func legFillState(trade *model.Trade, leg string) (filled, pending float64) {
	if leg == model.TradeLegExit {
		return trade.ExitFilledQuantity, trade.ExitPendingQuantity
	}
	return trade.EntryFilledQuantity, trade.EntryPendingQuantity
}

func setLegFillState(trade *model.Trade, leg string, filled, pending float64) {
	if leg == model.TradeLegExit {
		trade.ExitFilledQuantity = filled
		trade.ExitPendingQuantity = pending
		return
	}
	trade.EntryFilledQuantity = filled
	trade.EntryPendingQuantity = pending
}
