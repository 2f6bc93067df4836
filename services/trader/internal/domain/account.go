package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "KRW"

// Account holds a user's spendable balance and the funds reserved by open
// BID orders. Lock and Unlock are exact inverses.
type Account struct {
	Number   string
	Currency string
	Balance  decimal.Decimal
	Locked   decimal.Decimal
}

func (a *Account) Lock(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative lock amount %s", ErrLedgerInvariant, amount)
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientFunds, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	a.Locked = a.Locked.Add(amount)
	return nil
}

func (a *Account) Unlock(amount decimal.Decimal) error {
	if err := a.checkLocked(amount); err != nil {
		return err
	}
	a.Locked = a.Locked.Sub(amount)
	a.Balance = a.Balance.Add(amount)
	return nil
}

// ReleaseLocked drops a reservation without returning it to the balance.
// BID settlement spends the funds locked at placement this way.
func (a *Account) ReleaseLocked(amount decimal.Decimal) error {
	if err := a.checkLocked(amount); err != nil {
		return err
	}
	a.Locked = a.Locked.Sub(amount)
	return nil
}

func (a *Account) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative credit %s", ErrLedgerInvariant, amount)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (a Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Locked)
}

func (a Account) checkLocked(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative unlock amount %s", ErrLedgerInvariant, amount)
	}
	if a.Locked.LessThan(amount) {
		return fmt.Errorf("%w: release %s exceeds locked %s", ErrLedgerInvariant, amount, a.Locked)
	}
	return nil
}
