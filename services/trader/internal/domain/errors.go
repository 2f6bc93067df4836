package domain

import "errors"

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientAsset = errors.New("insufficient asset")
	ErrInvalidOrderState = errors.New("invalid order state")
	ErrAlreadyProcessed  = errors.New("order already processed")
	ErrNotOwner          = errors.New("order not owned by user")
	ErrNotFound          = errors.New("not found")
	ErrLockTimeout       = errors.New("lock timeout")

	// ErrLedgerInvariant marks a reservation mismatch. It is never clamped.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

// IsLostRace reports whether err means another transition reached the order first.
func IsLostRace(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrInvalidOrderState)
}
