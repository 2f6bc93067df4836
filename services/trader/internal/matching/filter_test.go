package matching

import (
	"testing"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func newOrder(t testing.TB, market string, side domain.Side, price int64) *domain.Order {
	order, err := domain.NewOrder(market, side, decimal.NewFromInt(1), decimal.NewFromInt(price))
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return order
}

func TestEligibleAtBoundary(t *testing.T) {
	bid := newOrder(t, "KRW-BTC", domain.SideBid, 100)
	ask := newOrder(t, "KRW-BTC", domain.SideAsk, 100)
	other := newOrder(t, "KRW-ETH", domain.SideBid, 100)
	canceled := newOrder(t, "KRW-BTC", domain.SideBid, 100)
	canceled.State = domain.StateCanceled
	orders := []*domain.Order{bid, ask, other, canceled, nil}

	cases := []struct {
		price string
		want  []*domain.Order
	}{
		{"100", []*domain.Order{bid, ask}},
		{"99.99", []*domain.Order{bid}},
		{"100.01", []*domain.Order{ask}},
	}
	for _, tc := range cases {
		got := Eligible(orders, "krw-btc", decimal.RequireFromString(tc.price))
		if len(got) != len(tc.want) {
			t.Fatalf("price %s: expected %d orders, got %d", tc.price, len(tc.want), len(got))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("price %s: unexpected order at %d", tc.price, i)
			}
		}
	}

	if bid.State != domain.StateCreated || canceled.State != domain.StateCanceled {
		t.Fatalf("expected filter not to mutate orders")
	}
}

func TestEligibleIsSubsetMatchingPredicate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		orders := make([]*domain.Order, 0, n)
		for i := 0; i < n; i++ {
			market := rapid.SampledFrom([]string{"KRW-BTC", "KRW-ETH"}).Draw(t, "market")
			side := rapid.SampledFrom([]domain.Side{domain.SideBid, domain.SideAsk}).Draw(t, "side")
			order := newOrder(t, market, side, rapid.Int64Range(1, 200).Draw(t, "price"))
			order.State = rapid.SampledFrom([]domain.State{domain.StateCreated, domain.StateCompleted, domain.StateCanceled}).Draw(t, "state")
			orders = append(orders, order)
		}
		tradePrice := decimal.NewFromInt(rapid.Int64Range(1, 200).Draw(t, "tradePrice"))

		got := Eligible(orders, "KRW-BTC", tradePrice)
		selected := make(map[*domain.Order]bool, len(got))
		for _, order := range got {
			selected[order] = true
		}
		for _, order := range orders {
			want := order.Market == "KRW-BTC" && order.State == domain.StateCreated &&
				((order.Side == domain.SideBid && tradePrice.LessThanOrEqual(order.Price)) ||
					(order.Side == domain.SideAsk && tradePrice.GreaterThanOrEqual(order.Price)))
			if selected[order] != want {
				t.Fatalf("order %s %s %s at %s: expected %v", order.Market, order.Side, order.Price, tradePrice, want)
			}
		}
	})
}
