package matching

import (
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Eligible returns the CREATED orders of market that execute at tradePrice,
// preserving input order. It never mutates its input.
func Eligible(orders []*domain.Order, market string, tradePrice decimal.Decimal) []*domain.Order {
	market = domain.NormalizeMarket(market)
	out := make([]*domain.Order, 0, len(orders))
	for _, order := range orders {
		if order == nil || order.Market != market {
			continue
		}
		if order.EligibleAt(tradePrice) {
			out = append(out, order)
		}
	}
	return out
}

func orderIDs(orders []*domain.Order) []uuid.UUID {
	ids := make([]uuid.UUID, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
	}
	return ids
}
