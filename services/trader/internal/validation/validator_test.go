package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateOrderRequest(t *testing.T) {
	cases := []struct {
		name   string
		market string
		side   string
		volume string
		price  string
		fields []string
	}{
		{name: "valid bid", market: "krw-btc", side: "bid", volume: "0.5", price: "50000000"},
		{name: "valid ask", market: "KRW-ETH", side: "ASK", volume: "3", price: "1.25"},
		{name: "missing market", market: "", side: "BID", volume: "1", price: "1", fields: []string{"market"}},
		{name: "bad market", market: "BTCKRW", side: "BID", volume: "1", price: "1", fields: []string{"market"}},
		{name: "bad side", market: "KRW-BTC", side: "buy", volume: "1", price: "1", fields: []string{"side"}},
		{name: "zero volume", market: "KRW-BTC", side: "BID", volume: "0", price: "1", fields: []string{"volume"}},
		{name: "negative price", market: "KRW-BTC", side: "BID", volume: "1", price: "-1", fields: []string{"price"}},
		{name: "garbage", market: "KRW-BTC", side: "BID", volume: "abc", price: "", fields: []string{"volume", "price"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, errs := ValidateOrderRequest(tc.market, tc.side, tc.volume, tc.price)
			if len(errs) != len(tc.fields) {
				t.Fatalf("expected %d errors, got %+v", len(tc.fields), errs)
			}
			for i, field := range tc.fields {
				if errs[i].Field != field {
					t.Fatalf("expected %s error, got %s", field, errs[i].Field)
				}
			}
		})
	}
}

func TestValidateOrderRequestNormalizes(t *testing.T) {
	req, errs := ValidateOrderRequest(" krw-btc ", " ask ", "1.50", "100")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %+v", errs)
	}
	if req.Market != "KRW-BTC" || req.Side != "ASK" {
		t.Fatalf("unexpected request %+v", req)
	}
	if !req.Volume.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected volume %s", req.Volume)
	}
}
