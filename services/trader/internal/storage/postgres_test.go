package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/testutil"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func setupPostgres(t *testing.T, lockTimeout time.Duration) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	pool := testutil.StartPostgres(t)
	t.Cleanup(func() {
		if err := testutil.CleanupTestData(context.Background(), pool); err != nil {
			t.Logf("cleanup: %v", err)
		}
	})
	return NewPostgres(pool, lockTimeout), pool
}

func TestPostgresOrderLifecycle(t *testing.T) {
	store, _ := setupPostgres(t, time.Second)
	ctx := context.Background()

	user := domain.NewUser(uuid.New(), "pg-user", "acc-"+uuid.NewString()[:8], decimal.NewFromInt(1000))
	user.SetHolding(domain.NewAssetHolding("KRW-ETH", decimal.RequireFromString("1.5"), decimal.NewFromInt(40)))
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	bid := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 300)
	ask := placeOrder(t, store, user.ID, "KRW-ETH", domain.SideAsk, 1, 50)

	open, err := store.FindEligibleByMarket(ctx, "KRW-BTC")
	if err != nil {
		t.Fatalf("FindEligibleByMarket: %v", err)
	}
	if len(open) != 1 || open[0].ID != bid.ID || open[0].User == nil {
		t.Fatalf("expected the bid with its owner, got %d orders", len(open))
	}

	if err := executeOrder(ctx, store, bid.ID); err != nil {
		t.Fatalf("execute bid: %v", err)
	}
	if err := executeOrder(ctx, store, ask.ID); err != nil {
		t.Fatalf("execute ask: %v", err)
	}
	if err := executeOrder(ctx, store, bid.ID); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	stored, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !stored.Account.Balance.Equal(decimal.NewFromInt(750)) || !stored.Account.Locked.IsZero() {
		t.Fatalf("unexpected account %s/%s", stored.Account.Balance, stored.Account.Locked)
	}
	btc, ok := stored.Holding("KRW-BTC")
	if !ok || !btc.Amount.Equal(decimal.NewFromInt(1)) || !btc.AvgBuyPrice.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected KRW-BTC holding %+v", btc)
	}
	eth, ok := stored.Holding("KRW-ETH")
	if !ok || !eth.Amount.Equal(decimal.RequireFromString("0.5")) || !eth.Locked.IsZero() {
		t.Fatalf("unexpected KRW-ETH holding %+v", eth)
	}

	orders, err := store.FindByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != ask.ID {
		t.Fatalf("expected newest first, got %d orders", len(orders))
	}
}

func TestPostgresLockTimeout(t *testing.T) {
	store, _ := setupPostgres(t, 100*time.Millisecond)
	ctx := context.Background()

	user := domain.NewUser(uuid.New(), "pg-lock", "acc-"+uuid.NewString()[:8], decimal.NewFromInt(1000))
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	order := placeOrder(t, store, user.ID, "KRW-BTC", domain.SideBid, 1, 100)

	locked := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
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
	wg.Wait()
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
