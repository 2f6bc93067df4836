package ticker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrInvalidTicker = errors.New("invalid ticker")

// Ticker is the latest trade summary of one market. Only Market and
// TradePrice drive matching.
type Ticker struct {
	Market         string          `json:"market"`
	TradePrice     decimal.Decimal `json:"tradePrice"`
	OpeningPrice   decimal.Decimal `json:"openingPrice"`
	HighPrice      decimal.Decimal `json:"highPrice"`
	LowPrice       decimal.Decimal `json:"lowPrice"`
	ChangeRate     decimal.Decimal `json:"changeRate"`
	AccTradePrice  decimal.Decimal `json:"accTradePrice"`
	AccTradeVolume decimal.Decimal `json:"accTradeVolume"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (t Ticker) Validate() error {
	if domain.NormalizeMarket(t.Market) == "" {
		return fmt.Errorf("%w: market is required", ErrInvalidTicker)
	}
	if !t.TradePrice.IsPositive() {
		return fmt.Errorf("%w: trade price must be positive, got %s", ErrInvalidTicker, t.TradePrice)
	}
	return nil
}

// Decode parses a JSON ticker and normalizes its market code.
func Decode(data []byte) (Ticker, error) {
	if len(data) == 0 {
		return Ticker{}, fmt.Errorf("%w: empty payload", ErrInvalidTicker)
	}
	var t Ticker
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticker{}, fmt.Errorf("%w: decode: %v", ErrInvalidTicker, err)
	}
	if err := t.Validate(); err != nil {
		return Ticker{}, err
	}
	t.Market = domain.NormalizeMarket(t.Market)
	return t, nil
}
