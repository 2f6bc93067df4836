package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/btree"
	"github.com/google/uuid"
)

const indexDegree = 32

type marketKey struct {
	market string
	id     uuid.UUID
}

func marketKeyLess(a, b marketKey) bool {
	if c := strings.Compare(a.market, b.market); c != 0 {
		return c < 0
	}
	return compareIDs(a.id, b.id) < 0
}

// MemoryStore keeps everything in process. Committed orders are stored
// without their owner; reads attach fresh copies of the user.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	users  map[uuid.UUID]*domain.User
	open   *btree.BTreeG[marketKey]

	orderLocks  *lockTable
	userLocks   *lockTable
	lockTimeout time.Duration
}

func NewMemory(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		orders:      make(map[uuid.UUID]*domain.Order),
		users:       make(map[uuid.UUID]*domain.User),
		open:        btree.NewG[marketKey](indexDegree, marketKeyLess),
		orderLocks:  newLockTable(),
		userLocks:   newLockTable(),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.detach([]*domain.Order{order})[0], nil
}

func (s *MemoryStore) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID == userID {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return compareIDs(matched[i].ID, matched[j].ID) > 0
	})
	return s.detach(matched), nil
}

func (s *MemoryStore) FindEligibleByMarket(ctx context.Context, market string) ([]*domain.Order, error) {
	market = domain.NormalizeMarket(market)
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*domain.Order, 0)
	s.open.AscendGreaterOrEqual(marketKey{market: market}, func(key marketKey) bool {
		if key.market != market {
			return false
		}
		matched = append(matched, s.orders[key.id])
		return true
	})
	return s.detach(matched), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user.Clone(), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	stored := user.Clone()
	if stored.Account.Currency == "" {
		stored.Account.Currency = domain.DefaultCurrency
	}
	s.users[user.ID] = stored
	return nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:      s,
		heldOrders: make(map[uuid.UUID]struct{}),
		heldUsers:  make(map[uuid.UUID]struct{}),
		users:      make(map[uuid.UUID]*domain.User),
	}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// detach copies orders and attaches one copy of each owner, shared by
// that owner's orders. Callers hold s.mu.
func (s *MemoryStore) detach(orders []*domain.Order) []*domain.Order {
	owners := make(map[uuid.UUID]*domain.User)
	out := make([]*domain.Order, len(orders))
	for i, order := range orders {
		c := *order
		owner, ok := owners[order.UserID]
		if !ok {
			if stored, found := s.users[order.UserID]; found {
				owner = stored.Clone()
			}
			owners[order.UserID] = owner
		}
		c.User = owner
		out[i] = &c
	}
	return out
}

type memoryWrite struct {
	order   domain.Order
	userID  uuid.UUID
	account domain.Account
	market  string
	holding *domain.AssetHolding
}

type memoryTx struct {
	store      *MemoryStore
	heldOrders map[uuid.UUID]struct{}
	heldUsers  map[uuid.UUID]struct{}
	users      map[uuid.UUID]*domain.User
	writes     []memoryWrite
}

func (t *memoryTx) LockOrders(ctx context.Context, ids []uuid.UUID) ([]*domain.Order, error) {
	if err := t.store.orderLocks.acquireAll(ctx, ids, t.heldOrders, t.store.lockTimeout); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range uniqueSorted(ids) {
		if stored, ok := t.store.orders[id]; ok {
			c := *stored
			orders = append(orders, &c)
		}
	}
	t.store.mu.RUnlock()

	if err := t.lockUsers(ctx, ownerIDs(orders)); err != nil {
		return nil, err
	}
	attachOwners(orders, t.users)
	return orders, nil
}

func (t *memoryTx) LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := t.lockUsers(ctx, []uuid.UUID{id}); err != nil {
		return nil, err
	}
	user, ok := t.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (t *memoryTx) lockUsers(ctx context.Context, ids []uuid.UUID) error {
	if err := t.store.userLocks.acquireAll(ctx, ids, t.heldUsers, t.store.lockTimeout); err != nil {
		return err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, id := range ids {
		if _, ok := t.users[id]; ok {
			continue
		}
		if stored, ok := t.store.users[id]; ok {
			t.users[id] = stored.Clone()
		}
	}
	return nil
}

func (t *memoryTx) SaveOrder(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.User == nil {
		return fmt.Errorf("save order %s: owner not loaded", order.ID)
	}
	if _, ok := t.heldUsers[order.UserID]; !ok {
		return fmt.Errorf("save order %s: owner %s not locked", order.ID, order.UserID)
	}

	w := memoryWrite{
		order:   *order,
		userID:  order.User.ID,
		account: order.User.Account,
		market:  order.Market,
	}
	w.order.User = nil
	if holding, ok := order.User.Holding(order.Market); ok {
		c := *holding
		w.holding = &c
	}
	t.writes = append(t.writes, w)
	return nil
}

func (t *memoryTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	mark := len(t.writes)
	restore := snapshotUsers(t.users)
	if err := fn(ctx); err != nil {
		restore()
		t.writes = t.writes[:mark]
		return err
	}
	return nil
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range t.writes {
		order := w.order
		s.orders[order.ID] = &order
		key := marketKey{market: order.Market, id: order.ID}
		if order.State == domain.StateCreated {
			s.open.ReplaceOrInsert(key)
		} else {
			s.open.Delete(key)
		}

		user, ok := s.users[w.userID]
		if !ok {
			continue
		}
		user.Account = w.account
		if w.holding == nil {
			delete(user.Assets, w.market)
		} else {
			c := *w.holding
			user.SetHolding(&c)
		}
	}
}

func (t *memoryTx) releaseLocks() {
	for id := range t.heldUsers {
		t.store.userLocks.release(id)
	}
	for id := range t.heldOrders {
		t.store.orderLocks.release(id)
	}
}
