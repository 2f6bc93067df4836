package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the aggregate that owns an account and its holdings. Only order
// lifecycle transitions mutate it.
type User struct {
	ID      uuid.UUID
	Name    string
	Account Account
	Assets  map[string]*AssetHolding
}

func NewUser(id uuid.UUID, name, accountNumber string, balance decimal.Decimal) *User {
	return &User{
		ID:   id,
		Name: name,
		Account: Account{
			Number:   accountNumber,
			Currency: DefaultCurrency,
			Balance:  balance,
			Locked:   decimal.Zero,
		},
		Assets: make(map[string]*AssetHolding),
	}
}

func (u *User) Holding(market string) (*AssetHolding, bool) {
	if u.Assets == nil {
		return nil, false
	}
	h, ok := u.Assets[market]
	return h, ok
}

func (u *User) SetHolding(h *AssetHolding) {
	if u.Assets == nil {
		u.Assets = make(map[string]*AssetHolding)
	}
	u.Assets[h.Market] = h
}

func (u *User) removeHolding(market string) {
	delete(u.Assets, market)
}

// Clone returns a deep copy safe to mutate independently.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Assets = make(map[string]*AssetHolding, len(u.Assets))
	for market, h := range u.Assets {
		c.Assets[market] = h.clone()
	}
	return &c
}
