package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetHolding is a user's position in one market. Locked is the part of
// Amount reserved by open ASK orders.
type AssetHolding struct {
	Market      string
	Amount      decimal.Decimal
	Locked      decimal.Decimal
	AvgBuyPrice decimal.Decimal
}

func NewAssetHolding(market string, volume, price decimal.Decimal) *AssetHolding {
	return &AssetHolding{
		Market:      market,
		Amount:      volume,
		Locked:      decimal.Zero,
		AvgBuyPrice: price,
	}
}

func (h *AssetHolding) Available() decimal.Decimal {
	return h.Amount.Sub(h.Locked)
}

func (h *AssetHolding) Lock(volume decimal.Decimal) error {
	if volume.IsNegative() {
		return fmt.Errorf("%w: negative lock volume %s", ErrLedgerInvariant, volume)
	}
	if h.Available().LessThan(volume) {
		return fmt.Errorf("%w: available %s %s, required %s", ErrInsufficientAsset, h.Available(), h.Market, volume)
	}
	h.Locked = h.Locked.Add(volume)
	return nil
}

func (h *AssetHolding) Unlock(volume decimal.Decimal) error {
	if volume.IsNegative() || h.Locked.LessThan(volume) {
		return fmt.Errorf("%w: unlock %s exceeds locked %s %s", ErrLedgerInvariant, volume, h.Locked, h.Market)
	}
	h.Locked = h.Locked.Sub(volume)
	return nil
}

// Buy folds volume bought at price into the volume-weighted average.
func (h *AssetHolding) Buy(volume, price decimal.Decimal) error {
	if !volume.IsPositive() {
		return fmt.Errorf("%w: buy volume %s", ErrLedgerInvariant, volume)
	}
	newAmount := h.Amount.Add(volume)
	cost := h.Amount.Mul(h.AvgBuyPrice).Add(volume.Mul(price))
	h.AvgBuyPrice = cost.Div(newAmount)
	h.Amount = newAmount
	return nil
}

// Sell settles a reserved volume: both Amount and Locked shrink by it.
func (h *AssetHolding) Sell(volume decimal.Decimal) error {
	if !h.canSell(volume) {
		return fmt.Errorf("%w: sell %s with amount %s locked %s %s", ErrLedgerInvariant, volume, h.Amount, h.Locked, h.Market)
	}
	h.Amount = h.Amount.Sub(volume)
	h.Locked = h.Locked.Sub(volume)
	return nil
}

func (h *AssetHolding) Empty() bool {
	return h.Amount.IsZero() && h.Locked.IsZero()
}

func (h *AssetHolding) canSell(volume decimal.Decimal) bool {
	return !volume.IsNegative() && h.Locked.GreaterThanOrEqual(volume) && h.Amount.GreaterThanOrEqual(volume)
}

func (h *AssetHolding) clone() *AssetHolding {
	c := *h
	return &c
}
