package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func seedUser(t *testing.T, store Store, balance int64) *domain.User {
	t.Helper()
	user := domain.NewUser(uuid.New(), "user", "acc-"+uuid.NewString()[:8], decimal.NewFromInt(balance))
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func placeOrder(t *testing.T, store Store, userID uuid.UUID, market string, side domain.Side, volume, price int64) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(market, side, decimal.NewFromInt(volume), decimal.NewFromInt(price))
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	err = store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := order.Place(user); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order
}

func executeOrder(ctx context.Context, store Store, id uuid.UUID) error {
	return store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		orders, err := tx.LockOrders(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		if len(orders) != 1 {
			return domain.ErrNotFound
		}
		if err := orders[0].Execute(); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, orders[0])
	})
}

func TestMemoryPlaceAndRead(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 1000)

	first := placeOrder(t, store, user.ID, "krw-btc", domain.SideBid, 1, 300)
	time.Sleep(time.Millisecond)
	second := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 200)

	got, err := store.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.State != domain.StateCreated || got.User == nil || got.User.ID != user.ID {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got.User.Account.Locked.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected locked 500, got %s", got.User.Account.Locked)
	}

	orders, err := store.FindByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != second.ID {
		t.Fatalf("expected newest order first, got %d orders", len(orders))
	}

	stored, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !stored.Account.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500, got %s", stored.Account.Balance)
	}

	if _, err := store.FindByID(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryReadsAreDetached(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)

	got, err := store.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.State = domain.StateCanceled
	got.User.Account.Balance = decimal.Zero

	again, err := store.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if again.State != domain.StateCreated || !again.User.Account.Balance.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected stored state untouched, got %s %s", again.State, again.User.Account.Balance)
	}
}

func TestMemoryEligibleIndexFollowsState(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 10000)

	btc := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)
	placeOrder(t, store, user.ID, "KRW-ETH", domain.SideBid, 1, 100)
	placeOrder(t, store, user.ID, "KRW-BTCX", domain.SideBid, 1, 100)

	open, err := store.FindEligibleByMarket(ctx, "KRW-BTC")
	if err != nil {
		t.Fatalf("FindEligibleByMarket: %v", err)
	}
	if len(open) != 1 || open[0].ID != btc.ID {
		t.Fatalf("expected only the KRW-BTC order, got %d", len(open))
	}

	if err := executeOrder(ctx, store, btc.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	open, err = store.FindEligibleByMarket(ctx, "KRW-BTC")
	if err != nil {
		t.Fatalf("FindEligibleByMarket: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected completed order to leave the index, got %d", len(open))
	}

	stored, _ := store.GetUser(ctx, user.ID)
	holding, ok := stored.Holding("KRW-BTC")
	if !ok || !holding.Amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected KRW-BTC holding of 1")
	}
}

func TestMemoryAskExecutionRemovesEmptyHolding(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := domain.NewUser(uuid.New(), "seller", "acc-s", decimal.Zero)
	user.SetHolding(domain.NewAssetHolding("KRW-BTC", decimal.NewFromInt(2), decimal.NewFromInt(100)))
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideAsk, 2, 150)
	if err := executeOrder(ctx, store, order.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := store.GetUser(ctx, user.ID)
	if _, ok := stored.Holding("KRW-BTC"); ok {
		t.Fatalf("expected holding to be removed")
	}
	if !stored.Account.Balance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected balance 300, got %s", stored.Account.Balance)
	}
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		orders, err := tx.LockOrders(ctx, []uuid.UUID{order.ID})
		if err != nil {
			return err
		}
		if err := orders[0].Execute(); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, orders[0]); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := store.FindByID(ctx, order.ID)
	if got.State != domain.StateCreated {
		t.Fatalf("expected rollback to keep CREATED, got %s", got.State)
	}
	if !got.User.Account.Locked.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected locked funds to survive rollback, got %s", got.User.Account.Locked)
	}
}

func TestMemorySavepointUndoesOnlyItsWork(t *testing.T) {
	store := NewMemory(time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 1000)
	first := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)
	second := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 200)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		orders, err := tx.LockOrders(ctx, []uuid.UUID{first.ID, second.ID})
		if err != nil {
			return err
		}
		if orders[0].User != orders[1].User {
			t.Errorf("expected orders of one owner to share the user")
		}
		byID := map[uuid.UUID]*domain.Order{orders[0].ID: orders[0], orders[1].ID: orders[1]}

		if err := tx.Savepoint(ctx, func(ctx context.Context) error {
			if err := byID[first.ID].Execute(); err != nil {
				return err
			}
			return tx.SaveOrder(ctx, byID[first.ID])
		}); err != nil {
			return err
		}

		err = tx.Savepoint(ctx, func(ctx context.Context) error {
			if err := byID[second.ID].Execute(); err != nil {
				return err
			}
			if err := tx.SaveOrder(ctx, byID[second.ID]); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom from savepoint, got %v", err)
		}
		if !byID[second.ID].User.Account.Locked.Equal(decimal.NewFromInt(200)) {
			t.Errorf("expected savepoint rollback to restore locked funds, got %s", byID[second.ID].User.Account.Locked)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	got, _ := store.FindByID(ctx, first.ID)
	if got.State != domain.StateCompleted {
		t.Fatalf("expected first order completed, got %s", got.State)
	}
	got, _ = store.FindByID(ctx, second.ID)
	if got.State != domain.StateCreated {
		t.Fatalf("expected second order still CREATED, got %s", got.State)
	}
	if !got.User.Account.Locked.Equal(decimal.NewFromInt(200)) || !got.User.Account.Balance.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unexpected account %s/%s", got.User.Account.Balance, got.User.Account.Locked)
	}
}

func TestMemoryLockTimeout(t *testing.T) {
	store := NewMemory(50 * time.Millisecond)
	ctx := context.Background()
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockOrders(ctx, []uuid.UUID{order.ID}); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	err := executeOrder(ctx, store, order.ID)
	close(done)
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestMemoryContextCancelWhileWaiting(t *testing.T) {
	store := NewMemory(0)
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockUser(ctx, user.ID); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := executeOrder(ctx, store, order.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestMemoryConcurrentExecutionIsAtMostOnce(t *testing.T) {
	store := NewMemory(5 * time.Second)
	ctx := context.Background()
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 2, 100)

	var executed, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := executeOrder(ctx, store, order.ID)
			switch {
			case err == nil:
				executed.Add(1)
			case errors.Is(err, domain.ErrAlreadyProcessed):
				lost.Add(1)
			default:
				t.Errorf("execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if executed.Load() != 1 || lost.Load() != 15 {
		t.Fatalf("expected 1 execution and 15 lost races, got %d/%d", executed.Load(), lost.Load())
	}
	stored, _ := store.GetUser(ctx, user.ID)
	holding, _ := stored.Holding("KRW-BTC")
	if !holding.Amount.Equal(decimal.NewFromInt(2)) || !stored.Account.Locked.IsZero() {
		t.Fatalf("expected one settlement, got amount %s locked %s", holding.Amount, stored.Account.Locked)
	}
}

func TestMemoryLocksReleasedAfterCommit(t *testing.T) {
	store := NewMemory(time.Second)
	user := seedUser(t, store, 1000)
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)
	if err := executeOrder(context.Background(), store, order.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	store.orderLocks.mu.Lock()
	orders := len(store.orderLocks.locks)
	store.orderLocks.mu.Unlock()
	store.userLocks.mu.Lock()
	users := len(store.userLocks.locks)
	store.userLocks.mu.Unlock()
	if orders != 0 || users != 0 {
		t.Fatalf("expected lock tables to drain, got %d orders %d users", orders, users)
	}
}
