package marketdata

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/execution"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// OpenTradeSource lists and updates the open positions to mark.
type OpenTradeSource interface {
	FindOpenExecutedTrades(ctx context.Context, maxItems int) ([]model.Trade, error)
	ApplyUpdates(ctx context.Context, tradeID uint, updates map[string]interface{}, fillEvent *model.TradeFillEvent) error
}

// UnrealizedRefresher periodically marks every open executed position to the
// latest price and stores the unrealized P&L estimate. It never touches
// realized P&L: that is written exactly once, when the exit executes.
type UnrealizedRefresher struct {
	trades   OpenTradeSource
	prices   PriceSource
	notifier execution.TradeNotifier
	config   Config
}

func NewUnrealizedRefresher(trades OpenTradeSource, prices PriceSource, notifier execution.TradeNotifier) *UnrealizedRefresher {
	return &UnrealizedRefresher{
		trades:   trades,
		prices:   prices,
		notifier: notifier,
		config:   GetConfig(),
	}
}

// Run refreshes at the configured period until the context is cancelled.
func (r *UnrealizedRefresher) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"module": "unrealized_refresher",
		"period": r.config.RefreshPeriod.String(),
	}).Info("unrealized P&L refresher started")

	ticker := time.NewTicker(r.config.RefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("unrealized P&L refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.RefreshOnce(ctx); err != nil {
				logger.WithError(err).Error("unrealized P&L refresh failed")
			}
		}
	}
}

// RefreshOnce marks one batch of open positions. Prices are fetched once per
// symbol; a symbol that cannot be priced is skipped and does not stop the
// pass.
func (r *UnrealizedRefresher) RefreshOnce(ctx context.Context) (int, error) {
	trades, err := r.trades.FindOpenExecutedTrades(ctx, r.config.RefreshBatchSize)
	if err != nil {
		return 0, err
	}

	prices := map[string]float64{}
	unpriceable := map[string]bool{}
	refreshed := 0

	for i := range trades {
		trade := &trades[i]
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if unpriceable[trade.Symbol] {
			continue
		}

		price, ok := prices[trade.Symbol]
		if !ok {
			price, err = r.prices.LastPrice(trade.Symbol)
			if err != nil {
				logger.WithError(err).WithField("symbol", trade.Symbol).Warn("symbol skipped in unrealized refresh")
				unpriceable[trade.Symbol] = true
				continue
			}
			prices[trade.Symbol] = price
		}

		entryPrice := trade.EntryPrice
		if trade.EntryExecutedPrice != nil && *trade.EntryExecutedPrice > 0 {
			entryPrice = *trade.EntryExecutedPrice
		}

		unrealized := execution.ComputeUnrealizedPnL(trade.Side, entryPrice, price, trade.Quantity)
		if unrealized == trade.UnrealizedPnL {
			continue
		}

		updates := map[string]interface{}{"unrealized_pnl": unrealized}
		if err := r.trades.ApplyUpdates(ctx, trade.ID, updates, nil); err != nil {
			logger.WithError(err).WithField("trade_id", trade.ID).Error("failed to store unrealized P&L")
			continue
		}

		trade.UnrealizedPnL = unrealized
		if r.notifier != nil {
			r.notifier.PublishTradeUpdate(trade.UserID, trade)
		}
		refreshed++
	}

	return refreshed, nil
}

var _ OpenTradeSource = (*repository.TradeRepository)(nil)
