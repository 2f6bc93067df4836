package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const restingOrdersPerUser = 500

var loadTestUserID = uuid.MustParse("00000000-0000-0000-0000-000000000003")

// seedTestData adds a funded user with a ladder of resting KRW-BTC bids, so a
// single tick settles many orders across several batches. Reservations are
// written with the orders to keep locked equal to the sum of open bids.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	volume := decimal.RequireFromString("0.001")
	base := decimal.NewFromInt(49_000_000)
	step := decimal.NewFromInt(1_000)

	locked := decimal.Zero
	prices := make([]decimal.Decimal, restingOrdersPerUser)
	for i := range prices {
		prices[i] = base.Add(step.Mul(decimal.NewFromInt(int64(i))))
		locked = locked.Add(prices[i].Mul(volume))
	}
	balance := decimal.NewFromInt(1_000_000_000)

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		now := time.Now()
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, loadTestUserID.String()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, name, account_number, currency, balance, locked, created_at, updated_at)
			VALUES ($1, 'load', '100-0003', 'KRW', $2::numeric, $3::numeric, $4, $4)
		`, loadTestUserID.String(), balance.Sub(locked).String(), locked.String(), now)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, price := range prices {
			created := now.Add(time.Duration(i) * time.Millisecond)
			batch.Queue(`
				INSERT INTO orders (id, user_id, market, side, volume, price, state, created_at, updated_at)
				VALUES ($1, $2, 'KRW-BTC', 'BID', $3::numeric, $4::numeric, 'CREATED', $5, $5)
			`, uuid.NewString(), loadTestUserID.String(), volume.String(), price.String(), created)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert orders: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restingOrdersPerUser, nil
}
