package marketdata

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
)

// PriceSource resolves a trade symbol into its latest traded price.
type PriceSource interface {
	LastPrice(symbol string) (float64, error)
}

// ExchangeSource marks open positions off a public spot exchange ticker.
type ExchangeSource struct {
	exchange goex.API
	quote    string
}

func NewExchangeSource() *ExchangeSource {
	config := GetConfig()

	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}

	return &ExchangeSource{
		exchange: binance.NewWithConfig(apiConfig),
		quote:    config.QuoteCurrency,
	}
}

// LastPrice fetches the last traded price for the symbol, normalized to the
// configured quote currency.
func (s *ExchangeSource) LastPrice(symbol string) (float64, error) {
	base := normalizeBase(symbol, s.quote)
	if base == "" {
		return 0, fmt.Errorf("cannot derive a currency pair from symbol %q", symbol)
	}

	pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: s.quote})
	ticker, err := s.exchange.GetTicker(pair)
	if err != nil {
		return 0, fmt.Errorf("ticker fetch for %s failed: %w", pair.String(), err)
	}
	if ticker.Last <= 0 {
		return 0, fmt.Errorf("exchange returned no last price for %s", pair.String())
	}

	return ticker.Last, nil
}

// normalizeBase strips a trailing quote suffix so both "BTC" and "BTCUSDT"
// style symbols resolve to the same pair. "BTCUSD" is treated as "BTC"
// against a USDT quote.
func normalizeBase(symbol, quote string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, quote) {
		s = strings.TrimSuffix(s, quote)
	} else if quote == "USDT" && strings.HasSuffix(s, "USD") {
		s = strings.TrimSuffix(s, "USD")
	}
	return s
}
