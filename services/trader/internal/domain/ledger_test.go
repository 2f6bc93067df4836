package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func drawAmount(t *rapid.T, label string) decimal.Decimal {
	return decimal.New(rapid.Int64Range(0, 1_000_000_000).Draw(t, label), -4)
}

func drawPositive(t *rapid.T, label string) decimal.Decimal {
	return decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, label), -2)
}

func TestAccountUnlockBeyondLockedFails(t *testing.T) {
	acct := Account{Balance: dec("10"), Locked: dec("5")}
	if err := acct.Unlock(dec("6")); !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got %v", err)
	}
	if err := acct.ReleaseLocked(dec("6")); !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got %v", err)
	}
	if !acct.Balance.Equal(dec("10")) || !acct.Locked.Equal(dec("5")) {
		t.Fatalf("expected no clamping, got %s/%s", acct.Balance, acct.Locked)
	}
}

func TestHoldingUnlockBeyondLockedFails(t *testing.T) {
	h := NewAssetHolding("KRW-ETH", dec("3"), dec("1"))
	if err := h.Lock(dec("1")); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := h.Unlock(dec("2")); !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got %v", err)
	}
	if err := h.Sell(dec("2")); !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected sell beyond locked to fail, got %v", err)
	}
}

func TestLockUnlockIsExactInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		acct := Account{Balance: drawAmount(t, "balance"), Locked: drawAmount(t, "locked")}
		before := acct
		amount := drawAmount(t, "amount")

		err := acct.Lock(amount)
		if err != nil {
			if !errors.Is(err, ErrInsufficientFunds) || !amount.GreaterThan(before.Balance) {
				t.Fatalf("unexpected lock failure: %v", err)
			}
			return
		}
		if !acct.Total().Equal(before.Total()) {
			t.Fatalf("lock changed total: %s -> %s", before.Total(), acct.Total())
		}
		if err := acct.Unlock(amount); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if !acct.Balance.Equal(before.Balance) || !acct.Locked.Equal(before.Locked) {
			t.Fatalf("unlock did not restore %s/%s, got %s/%s", before.Balance, before.Locked, acct.Balance, acct.Locked)
		}
	})
}

func TestPlacementConservesFunds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		user := newTestUser("0")
		user.Account.Balance = drawAmount(t, "balance")
		before := user.Account.Total()

		order, err := NewOrder("KRW-BTC", SideBid, drawPositive(t, "volume"), drawPositive(t, "price"))
		if err != nil {
			t.Fatalf("NewOrder: %v", err)
		}
		if err := order.Place(user); err != nil && !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("Place: %v", err)
		}
		if !user.Account.Total().Equal(before) {
			t.Fatalf("placement changed balance+locked: %s -> %s", before, user.Account.Total())
		}
	})
}

func TestEligibilityMatchesLimitRule(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := rapid.SampledFrom([]Side{SideBid, SideAsk}).Draw(t, "side")
		price := drawPositive(t, "price")
		tradePrice := drawPositive(t, "tradePrice")
		order, err := NewOrder("KRW-BTC", side, dec("1"), price)
		if err != nil {
			t.Fatalf("NewOrder: %v", err)
		}

		want := tradePrice.Cmp(price) <= 0
		if side == SideAsk {
			want = tradePrice.Cmp(price) >= 0
		}
		if got := order.EligibleAt(tradePrice); got != want {
			t.Fatalf("%s price %s trade %s: expected %v, got %v", side, price, tradePrice, want, got)
		}
	})
}

// Random lifecycles keep reservations equal to the sum of open orders and
// never drive a field negative.
func TestLifecycleKeepsReservationsConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		user := newTestUser("0")
		user.Account.Balance = decimal.New(rapid.Int64Range(0, 100_000).Draw(t, "balance"), 0)
		user.SetHolding(NewAssetHolding("KRW-BTC", decimal.New(rapid.Int64Range(1, 50).Draw(t, "held"), 0), dec("10")))

		var open []*Order
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				side := rapid.SampledFrom([]Side{SideBid, SideAsk}).Draw(t, "side")
				order, err := NewOrder("KRW-BTC", side, decimal.New(rapid.Int64Range(1, 10).Draw(t, "volume"), 0), decimal.New(rapid.Int64Range(1, 1000).Draw(t, "price"), 0))
				if err != nil {
					t.Fatalf("NewOrder: %v", err)
				}
				if err := order.Place(user); err == nil {
					open = append(open, order)
				} else if !errors.Is(err, ErrInsufficientFunds) && !errors.Is(err, ErrInsufficientAsset) {
					t.Fatalf("Place: %v", err)
				}
			case 1, 2:
				if len(open) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(open)-1).Draw(t, "idx")
				order := open[idx]
				var err error
				if rapid.Bool().Draw(t, "cancel") {
					err = order.Cancel(user.ID)
				} else {
					err = order.Execute()
				}
				if err != nil {
					t.Fatalf("transition: %v", err)
				}
				open = append(open[:idx], open[idx+1:]...)
			}

			lockedFunds := decimal.Zero
			lockedVolume := decimal.Zero
			for _, o := range open {
				if o.Side == SideBid {
					lockedFunds = lockedFunds.Add(o.TotalPrice())
				} else {
					lockedVolume = lockedVolume.Add(o.Volume)
				}
			}
			if user.Account.Balance.IsNegative() || !user.Account.Locked.Equal(lockedFunds) {
				t.Fatalf("account %s/%s, expected locked %s", user.Account.Balance, user.Account.Locked, lockedFunds)
			}
			holding, ok := user.Holding("KRW-BTC")
			if !ok {
				if !lockedVolume.IsZero() {
					t.Fatalf("holding removed while %s still reserved", lockedVolume)
				}
				continue
			}
			if !holding.Locked.Equal(lockedVolume) || holding.Available().IsNegative() {
				t.Fatalf("holding %s/%s, expected locked %s", holding.Amount, holding.Locked, lockedVolume)
			}
		}
	})
}
