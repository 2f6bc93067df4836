package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

func ParseSide(value string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(value))) {
	case SideBid:
		return SideBid, nil
	case SideAsk:
		return SideAsk, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, value)
	}
}

type State string

const (
	StateCreated   State = "CREATED"
	StateCompleted State = "COMPLETED"
	StateCanceled  State = "CANCELED"
)

// Order is a limit order resting until an eligible trade price arrives.
// CREATED moves to COMPLETED or CANCELED and never leaves those states.
type Order struct {
	ID        uuid.UUID
	Market    string
	Side      Side
	Volume    decimal.Decimal
	Price     decimal.Decimal
	State     State
	UserID    uuid.UUID
	User      *User
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NormalizeMarket(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

func NewOrder(market string, side Side, volume, price decimal.Decimal) (*Order, error) {
	market = NormalizeMarket(market)
	if market == "" {
		return nil, fmt.Errorf("%w: market is required", ErrInvalidOrder)
	}
	if side != SideBid && side != SideAsk {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	if !volume.IsPositive() {
		return nil, fmt.Errorf("%w: volume must be positive", ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.New(),
		Market:    market,
		Side:      side,
		Volume:    volume,
		Price:     price,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Order) TotalPrice() decimal.Decimal {
	return o.Price.Mul(o.Volume)
}

func (o *Order) IsTerminal() bool {
	return o.State == StateCompleted || o.State == StateCanceled
}

// EligibleAt reports whether a resting order executes at tradePrice: a bid
// once the market trades at or below it, an ask at or above it.
func (o *Order) EligibleAt(tradePrice decimal.Decimal) bool {
	if o.State != StateCreated {
		return false
	}
	switch o.Side {
	case SideBid:
		return tradePrice.LessThanOrEqual(o.Price)
	case SideAsk:
		return tradePrice.GreaterThanOrEqual(o.Price)
	default:
		return false
	}
}

// Place reserves the order's funds or asset volume on user and binds the
// owner. On error nothing is mutated.
func (o *Order) Place(user *User) error {
	if user == nil {
		return fmt.Errorf("%w: owner is required", ErrInvalidOrder)
	}
	if o.State != StateCreated || o.User != nil {
		return fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.State)
	}

	switch o.Side {
	case SideBid:
		if err := user.Account.Lock(o.TotalPrice()); err != nil {
			return err
		}
	case SideAsk:
		holding, ok := user.Holding(o.Market)
		if !ok {
			return fmt.Errorf("%w: no %s holding", ErrInsufficientAsset, o.Market)
		}
		if err := holding.Lock(o.Volume); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}

	o.UserID = user.ID
	o.User = user
	return nil
}

// Cancel releases the reservation made by Place.
func (o *Order) Cancel(userID uuid.UUID) error {
	if o.UserID != userID {
		return ErrNotOwner
	}
	if o.State != StateCreated {
		return fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.State)
	}
	if o.User == nil {
		return fmt.Errorf("%w: order %s has no loaded owner", ErrLedgerInvariant, o.ID)
	}

	switch o.Side {
	case SideBid:
		if err := o.User.Account.Unlock(o.TotalPrice()); err != nil {
			return err
		}
	case SideAsk:
		holding, ok := o.User.Holding(o.Market)
		if !ok {
			return fmt.Errorf("%w: no %s holding to release", ErrLedgerInvariant, o.Market)
		}
		if err := holding.Unlock(o.Volume); err != nil {
			return err
		}
	}

	o.transition(StateCanceled)
	return nil
}

// Execute settles the order against its owner's ledger. The account and
// holding changes are staged on copies and committed together, so a failure
// leaves no trace.
func (o *Order) Execute() error {
	switch o.State {
	case StateCompleted:
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, o.ID)
	case StateCanceled:
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, o.ID, o.State)
	}
	user := o.User
	if user == nil {
		return fmt.Errorf("%w: order %s has no loaded owner", ErrLedgerInvariant, o.ID)
	}
	total := o.TotalPrice()
	account := user.Account

	switch o.Side {
	case SideBid:
		if err := account.ReleaseLocked(total); err != nil {
			return fmt.Errorf("settle bid %s: %w", o.ID, err)
		}
		next := NewAssetHolding(o.Market, o.Volume, o.Price)
		if holding, ok := user.Holding(o.Market); ok {
			next = holding.clone()
			if err := next.Buy(o.Volume, o.Price); err != nil {
				return fmt.Errorf("settle bid %s: %w", o.ID, err)
			}
		}
		user.Account = account
		user.SetHolding(next)
	case SideAsk:
		holding, ok := user.Holding(o.Market)
		if !ok {
			return fmt.Errorf("%w: order %s has no %s holding", ErrLedgerInvariant, o.ID, o.Market)
		}
		next := holding.clone()
		if err := next.Sell(o.Volume); err != nil {
			return fmt.Errorf("settle ask %s: %w", o.ID, err)
		}
		if err := account.Credit(total); err != nil {
			return fmt.Errorf("settle ask %s: %w", o.ID, err)
		}
		user.Account = account
		if next.Empty() {
			user.removeHolding(o.Market)
		} else {
			user.SetHolding(next)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}

	o.transition(StateCompleted)
	return nil
}

func (o *Order) transition(state State) {
	o.State = state
	o.UpdatedAt = time.Now().UTC()
}

// Clone copies the order and, when loaded, its owner.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.User = o.User.Clone()
	return &c
}
