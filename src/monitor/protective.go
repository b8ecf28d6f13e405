package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradeengine/src/audit"
	"tradeengine/src/execution"
	"tradeengine/src/marketdata"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// GuardedTradeSource lists open trades holding a live position, the only
// trades a protective level can apply to.
type GuardedTradeSource interface {
	FindOpenExecutedTrades(ctx context.Context, maxItems int) ([]model.Trade, error)
}

// TradeCloser submits the exit leg for a trade on its owner's behalf.
type TradeCloser interface {
	CloseTrade(ctx context.Context, userID, tradeID uint, req execution.CloseRequest) (*model.Trade, error)
}

// ProtectiveExitMonitor watches open positions that carry a stop loss or take
// profit level and closes them at market once the last traded price crosses
// the level. Closes go through the regular exit path, so fills and P&L arrive
// via the submission worker and the sweeper like any manual close.
type ProtectiveExitMonitor struct {
	trades     GuardedTradeSource
	prices     marketdata.PriceSource
	closer     TradeCloser
	exceptions *repository.ExceptionRepository
	config     Config
}

func NewProtectiveExitMonitor(
	trades GuardedTradeSource,
	prices marketdata.PriceSource,
	closer TradeCloser,
	exceptions *repository.ExceptionRepository,
) *ProtectiveExitMonitor {
	return &ProtectiveExitMonitor{
		trades:     trades,
		prices:     prices,
		closer:     closer,
		exceptions: exceptions,
		config:     GetConfig(),
	}
}

// Run checks protective levels at the configured period until the context is
// cancelled.
func (m *ProtectiveExitMonitor) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"module": "protective_exit_monitor",
		"period": m.config.ProtectivePeriod.String(),
		"batch":  m.config.ProtectiveBatchSize,
	}).Info("protective exit monitor started")

	ticker := time.NewTicker(m.config.ProtectivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.WithField("module", "protective_exit_monitor").Info("protective exit monitor stopped")
			return
		case <-ticker.C:
			closed, err := m.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("protective exit sweep failed")
			} else if closed > 0 {
				logger.WithFields(map[string]interface{}{
					"module": "protective_exit_monitor",
					"closed": closed,
				}).Info("protective exits triggered")
			}
		}
	}
}

// Sweep runs one pass over the guarded open trades. Prices are fetched once
// per symbol; a symbol the source cannot price is skipped for the pass.
func (m *ProtectiveExitMonitor) Sweep(ctx context.Context) (int, error) {
	trades, err := m.trades.FindOpenExecutedTrades(ctx, m.config.ProtectiveBatchSize)
	if err != nil {
		return 0, err
	}

	priceBySymbol := map[string]float64{}
	unpriceable := map[string]bool{}
	closed := 0

	for i := range trades {
		trade := &trades[i]
		if trade.StopLoss == nil && trade.TakeProfit == nil {
			continue
		}
		// An exit already on its way wins over the protective level. A
		// terminally failed exit does not: the trade is still open and
		// the level should fire again.
		if (trade.ExitOrderID != "" || trade.ExitReason != "") && !model.IsOrderTerminal(trade.OrderStatus) {
			continue
		}
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if unpriceable[trade.Symbol] {
			continue
		}

		price, ok := priceBySymbol[trade.Symbol]
		if !ok {
			price, err = m.prices.LastPrice(trade.Symbol)
			if err != nil {
				logger.WithError(err).WithField("symbol", trade.Symbol).Warn("no price for guarded symbol, skipping")
				unpriceable[trade.Symbol] = true
				continue
			}
			priceBySymbol[trade.Symbol] = price
		}

		reason := triggeredReason(trade, price)
		if reason == "" {
			continue
		}

		if m.closeOut(ctx, trade, price, reason) {
			closed++
		}
	}

	return closed, nil
}

func (m *ProtectiveExitMonitor) closeOut(ctx context.Context, trade *model.Trade, price float64, reason string) bool {
	_, err := m.closer.CloseTrade(ctx, trade.UserID, trade.ID, execution.CloseRequest{Reason: reason})
	if err != nil {
		// Racing a manual close is expected and not an incident.
		if errors.Is(err, execution.ErrExitInFlight) || errors.Is(err, execution.ErrTradeNotOpen) {
			return false
		}
		logger.WithError(err).WithFields(map[string]interface{}{
			"module":   "protective_exit_monitor",
			"trade_id": trade.ID,
		}).Error("failed to close trade on protective level")
		audit.Capture(ctx, m.exceptions, "trade_engine", "protective_exit_monitor", "CloseTrade", "error", err,
			map[string]interface{}{"trade_id": trade.ID, "user_id": trade.UserID})
		return false
	}

	logger.WithFields(map[string]interface{}{
		"module":     "protective_exit_monitor",
		"trade_id":   trade.ID,
		"symbol":     trade.Symbol,
		"last_price": price,
		"reason":     reason,
	}).Info("protective exit submitted")

	return true
}

// triggeredReason decides whether price crosses the trade's protective
// levels. A long position stops below its stop loss and takes profit above
// its target; a short position is the mirror image.
func triggeredReason(trade *model.Trade, price float64) string {
	last := decimal.NewFromFloat(price)
	long := trade.Side == model.TradeSideBuy

	if trade.StopLoss != nil && *trade.StopLoss > 0 {
		level := decimal.NewFromFloat(*trade.StopLoss)
		if (long && last.LessThanOrEqual(level)) || (!long && last.GreaterThanOrEqual(level)) {
			return fmt.Sprintf("stop_loss hit at %v", price)
		}
	}

	if trade.TakeProfit != nil && *trade.TakeProfit > 0 {
		level := decimal.NewFromFloat(*trade.TakeProfit)
		if (long && last.GreaterThanOrEqual(level)) || (!long && last.LessThanOrEqual(level)) {
			return fmt.Sprintf("take_profit hit at %v", price)
		}
	}

	return ""
}

var (
	_ GuardedTradeSource = (*repository.TradeRepository)(nil)
	_ TradeCloser        = (*execution.Executor)(nil)
)
