package marketdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeengine/src/model"
)

type stubTradeSource struct {
	open    []model.Trade
	applied map[uint]map[string]interface{}
}

func (s *stubTradeSource) FindOpenExecutedTrades(_ context.Context, _ int) ([]model.Trade, error) {
	return s.open, nil
}

func (s *stubTradeSource) ApplyUpdates(_ context.Context, tradeID uint, updates map[string]interface{}, _ *model.TradeFillEvent) error {
	if s.applied == nil {
		s.applied = map[uint]map[string]interface{}{}
	}
	s.applied[tradeID] = updates
	return nil
}

type stubPriceSource struct {
	prices map[string]float64
	calls  map[string]int
}

func (s *stubPriceSource) LastPrice(symbol string) (float64, error) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[symbol]++
	price, ok := s.prices[symbol]
	if !ok {
		return 0, assert.AnError
	}
	return price, nil
}

func TestRefreshOnceMarksOpenPositions(t *testing.T) {
	entry := 100.0
	trades := &stubTradeSource{
		open: []model.Trade{
			{ID: 1, UserID: 7, Symbol: "BTCUSDT", Side: model.TradeSideBuy, Quantity: 2, EntryExecutedPrice: &entry},
			{ID: 2, UserID: 7, Symbol: "BTCUSDT", Side: model.TradeSideSell, Quantity: 1, EntryExecutedPrice: &entry},
		},
	}
	prices := &stubPriceSource{prices: map[string]float64{"BTCUSDT": 110}}
	refresher := NewUnrealizedRefresher(trades, prices, nil)

	refreshed, err := refresher.RefreshOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, refreshed)

	// One ticker call serves every trade on the symbol.
	assert.Equal(t, 1, prices.calls["BTCUSDT"])

	assert.Equal(t, float64(20), trades.applied[1]["unrealized_pnl"])
	assert.Equal(t, float64(-10), trades.applied[2]["unrealized_pnl"])
}

func TestRefreshOnceSkipsUnpriceableSymbols(t *testing.T) {
	entry := 100.0
	trades := &stubTradeSource{
		open: []model.Trade{
			{ID: 1, UserID: 7, Symbol: "UNKNOWN", Side: model.TradeSideBuy, Quantity: 2, EntryExecutedPrice: &entry},
			{ID: 2, UserID: 7, Symbol: "BTCUSDT", Side: model.TradeSideBuy, Quantity: 1, EntryExecutedPrice: &entry},
		},
	}
	prices := &stubPriceSource{prices: map[string]float64{"BTCUSDT": 105}}
	refresher := NewUnrealizedRefresher(trades, prices, nil)

	refreshed, err := refresher.RefreshOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.NotContains(t, trades.applied, uint(1))
	assert.Equal(t, float64(5), trades.applied[2]["unrealized_pnl"])
}

func TestRefreshOnceSkipsUnchangedValues(t *testing.T) {
	entry := 100.0
	trades := &stubTradeSource{
		open: []model.Trade{
			{ID: 1, UserID: 7, Symbol: "BTCUSDT", Side: model.TradeSideBuy, Quantity: 2, EntryExecutedPrice: &entry, UnrealizedPnL: 20},
		},
	}
	prices := &stubPriceSource{prices: map[string]float64{"BTCUSDT": 110}}
	refresher := NewUnrealizedRefresher(trades, prices, nil)

	refreshed, err := refresher.RefreshOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, refreshed)
	assert.Empty(t, trades.applied)
}

func TestNormalizeBase(t *testing.T) {
	assert.Equal(t, "BTC", normalizeBase("BTCUSDT", "USDT"))
	assert.Equal(t, "BTC", normalizeBase("btcusd", "USDT"))
	assert.Equal(t, "ETH", normalizeBase("ETH", "USDT"))
	assert.Equal(t, "", normalizeBase("", "USDT"))
}
