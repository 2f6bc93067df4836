package storage

import (
	"bytes"
	"context"
	"slices"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
)

// Store is the persistence contract of the trader service. Reads never lock
// and return detached copies; all writes go through a Tx.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByUser returns the user's orders, newest first.
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	// FindEligibleByMarket returns the CREATED orders of market with their
	// owners and holdings loaded, ordered by id.
	FindEligibleByMarket(ctx context.Context, market string) ([]*domain.Order, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is a unit of work holding exclusive locks until it ends. Lock order is
// orders first, then users, each ascending by id.
type Tx interface {
	// LockOrders locks the orders and their owners and returns them sorted by
	// id. Ids that do not exist are left out. Orders owned by the same user
	// share one *domain.User for the lifetime of the transaction.
	LockOrders(ctx context.Context, ids []uuid.UUID) ([]*domain.Order, error)
	LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// SaveOrder upserts the order together with its owner's account and the
	// owner's holding for the order's market.
	SaveOrder(ctx context.Context, order *domain.Order) error
	// Savepoint runs fn so that a failure undoes only the work fn did.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// snapshotUsers returns a function restoring users to their current values
// in place, so pointers already handed out observe the rollback.
func snapshotUsers(users map[uuid.UUID]*domain.User) func() {
	saved := make(map[uuid.UUID]*domain.User, len(users))
	for id, user := range users {
		saved[id] = user.Clone()
	}
	return func() {
		for id, user := range users {
			if prev, ok := saved[id]; ok {
				*user = *prev
			}
		}
	}
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, compareIDs)
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
