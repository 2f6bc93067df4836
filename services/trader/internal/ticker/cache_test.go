package ticker

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCacheSeededAtZero(t *testing.T) {
	c := NewCache("krw-btc", "KRW-ETH", " ")
	if c.Size() != 2 {
		t.Fatalf("expected 2 markets, got %d", c.Size())
	}
	got, ok := c.Get("KRW-BTC")
	if !ok || !got.TradePrice.IsZero() {
		t.Fatalf("expected zero-price seed, got %+v", got)
	}
	if _, ok := c.Get("KRW-XRP"); ok {
		t.Fatalf("unexpected market")
	}
}

func TestCacheUpdateAndAll(t *testing.T) {
	c := NewCache("KRW-ETH")
	c.Update(Ticker{Market: "krw-btc", TradePrice: decimal.NewFromInt(100)})
	c.Update(Ticker{Market: "KRW-ETH", TradePrice: decimal.NewFromInt(7)})
	c.Update(Ticker{Market: "KRW-BTC", TradePrice: decimal.NewFromInt(101)})

	all := c.All()
	if len(all) != 2 || all[0].Market != "KRW-BTC" || all[1].Market != "KRW-ETH" {
		t.Fatalf("unexpected tickers %+v", all)
	}
	if !all[0].TradePrice.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected latest price, got %s", all[0].TradePrice)
	}
}
