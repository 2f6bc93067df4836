package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgLockNotAvailable = "55P03"

const orderColumns = `id, user_id, market, side, volume::text, price::text, state, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgres(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	orders, err := s.findOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return orders[0], nil
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	return s.findOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (s *PostgresStore) FindEligibleByMarket(ctx context.Context, market string) ([]*domain.Order, error) {
	return s.findOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE market = $1 AND state = $2
		ORDER BY id
	`, domain.NormalizeMarket(market), string(domain.StateCreated))
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	users, err := loadUsers(ctx, s.pool, []uuid.UUID{id}, false)
	if err != nil {
		return nil, err
	}
	user, ok := users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

// CreateUser inserts the user with its account and holdings.
func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	currency := user.Account.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, account_number, currency, balance, locked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Name, user.Account.Number, currency, user.Account.Balance.String(), user.Account.Locked.String()); err != nil {
		return err
	}
	for _, holding := range user.Assets {
		if err := upsertHolding(ctx, tx, user.ID, holding); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err := fn(ctx, &postgresTx{tx: tx, users: make(map[uuid.UUID]*domain.User)}); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx))
}

func (s *PostgresStore) findOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	orders, err := queryOrders(ctx, s.pool, query, args...)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}
	users, err := loadUsers(ctx, s.pool, ownerIDs(orders), false)
	if err != nil {
		return nil, err
	}
	attachOwners(orders, users)
	return orders, nil
}

type postgresTx struct {
	tx    pgx.Tx
	users map[uuid.UUID]*domain.User
}

func (t *postgresTx) LockOrders(ctx context.Context, ids []uuid.UUID) ([]*domain.Order, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	orders, err := queryOrders(ctx, t.tx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, idStrings(ids))
	if err != nil {
		return nil, mapError(err)
	}
	if err := t.lockUsers(ctx, ownerIDs(orders)); err != nil {
		return nil, err
	}
	attachOwners(orders, t.users)
	return orders, nil
}

func (t *postgresTx) LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := t.lockUsers(ctx, []uuid.UUID{id}); err != nil {
		return nil, err
	}
	user, ok := t.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (t *postgresTx) lockUsers(ctx context.Context, ids []uuid.UUID) error {
	pending := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.users[id]; !ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	users, err := loadUsers(ctx, t.tx, uniqueSorted(pending), true)
	if err != nil {
		return mapError(err)
	}
	for id, user := range users {
		t.users[id] = user
	}
	return nil
}

func (t *postgresTx) SaveOrder(ctx context.Context, order *domain.Order) error {
	if order.User == nil {
		return fmt.Errorf("save order %s: owner not loaded", order.ID)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, market, side, volume, price, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at
	`, order.ID, order.UserID, order.Market, string(order.Side), order.Volume.String(), order.Price.String(), string(order.State), order.CreatedAt, order.UpdatedAt); err != nil {
		return mapError(err)
	}

	user := order.User
	if _, err := t.tx.Exec(ctx, `
		UPDATE users
		SET balance = $1, locked = $2, updated_at = now()
		WHERE id = $3
	`, user.Account.Balance.String(), user.Account.Locked.String(), user.ID); err != nil {
		return mapError(err)
	}

	holding, ok := user.Holding(order.Market)
	if !ok {
		_, err := t.tx.Exec(ctx, `DELETE FROM asset_holdings WHERE user_id = $1 AND market = $2`, user.ID, order.Market)
		return mapError(err)
	}
	return mapError(upsertHolding(ctx, t.tx, user.ID, holding))
}

func (t *postgresTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	restore := snapshotUsers(t.users)
	if err := fn(ctx); err != nil {
		restore()
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}
	return mapError(nested.Commit(ctx))
}

func upsertHolding(ctx context.Context, tx pgx.Tx, userID uuid.UUID, holding *domain.AssetHolding) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO asset_holdings (user_id, market, amount, locked, avg_buy_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, market) DO UPDATE
		SET amount = EXCLUDED.amount,
		    locked = EXCLUDED.locked,
		    avg_buy_price = EXCLUDED.avg_buy_price,
		    updated_at = EXCLUDED.updated_at
	`, userID, holding.Market, holding.Amount.String(), holding.Locked.String(), holding.AvgBuyPrice.String())
	return err
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]*domain.Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

func scanOrderRow(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var side, state, volumeStr, priceStr string
	if err := row.Scan(&order.ID, &order.UserID, &order.Market, &side, &volumeStr, &priceStr, &state, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, err
	}
	volume, err := parseDecimal("volume", volumeStr)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal("price", priceStr)
	if err != nil {
		return nil, err
	}
	order.Side = domain.Side(side)
	order.State = domain.State(state)
	order.Volume = volume
	order.Price = price
	return &order, nil
}

func loadUsers(ctx context.Context, q querier, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*domain.User, error) {
	query := `
		SELECT id, name, account_number, currency, balance::text, locked::text
		FROM users
		WHERE id = ANY($1::uuid[])
		ORDER BY id
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := q.Query(ctx, query, idStrings(ids))
	if err != nil {
		return nil, err
	}
	users := make(map[uuid.UUID]*domain.User, len(ids))
	for rows.Next() {
		var user domain.User
		var balanceStr, lockedStr string
		if err := rows.Scan(&user.ID, &user.Name, &user.Account.Number, &user.Account.Currency, &balanceStr, &lockedStr); err != nil {
			rows.Close()
			return nil, err
		}
		if user.Account.Balance, err = parseDecimal("balance", balanceStr); err != nil {
			rows.Close()
			return nil, err
		}
		if user.Account.Locked, err = parseDecimal("locked", lockedStr); err != nil {
			rows.Close()
			return nil, err
		}
		user.Assets = make(map[string]*domain.AssetHolding)
		users[user.ID] = &user
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(users) == 0 {
		return users, nil
	}

	rows, err = q.Query(ctx, `
		SELECT user_id, market, amount::text, locked::text, avg_buy_price::text
		FROM asset_holdings
		WHERE user_id = ANY($1::uuid[])
	`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID uuid.UUID
		var holding domain.AssetHolding
		var amountStr, lockedStr, avgStr string
		if err := rows.Scan(&userID, &holding.Market, &amountStr, &lockedStr, &avgStr); err != nil {
			return nil, err
		}
		if holding.Amount, err = parseDecimal("amount", amountStr); err != nil {
			return nil, err
		}
		if holding.Locked, err = parseDecimal("holding locked", lockedStr); err != nil {
			return nil, err
		}
		if holding.AvgBuyPrice, err = parseDecimal("avg buy price", avgStr); err != nil {
			return nil, err
		}
		if user, ok := users[userID]; ok {
			user.SetHolding(&holding)
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return users, nil
}

func attachOwners(orders []*domain.Order, users map[uuid.UUID]*domain.User) {
	for _, order := range orders {
		order.User = users[order.UserID]
	}
}

func ownerIDs(orders []*domain.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.UserID)
	}
	return uniqueSorted(ids)
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
	}
	return err
}
