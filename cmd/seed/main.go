package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/auth"
	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
	"github.com/K-crypto-trader/crpypto-trader/libs/migrate"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	demoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

type seedUser struct {
	id            uuid.UUID
	name          string
	accountNumber string
	balance       string
	holdings      []seedHolding
}

type seedHolding struct {
	market      string
	amount      string
	avgBuyPrice string
}

var demoUsers = []seedUser{
	{
		id:            demoUserID,
		name:          "demo",
		accountNumber: "100-0001",
		balance:       "100000000",
		holdings: []seedHolding{
			{market: "KRW-BTC", amount: "1", avgBuyPrice: "50000000"},
			{market: "KRW-ETH", amount: "10", avgBuyPrice: "3000000"},
		},
	},
	{
		id:            traderUserID,
		name:          "trader",
		accountNumber: "100-0002",
		balance:       "50000000",
		holdings: []seedHolding{
			{market: "KRW-XRP", amount: "10000", avgBuyPrice: "700"},
		},
	},
}

func main() {
	_ = godotenv.Load()

	env := getEnv("CEX_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: CEX_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "trader"),
		getEnv("POSTGRES_PASSWORD", "trader"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "trader"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := migrate.Up(ctx, pool, migrations.FS, logging.NewLogger("info", "seed", env)); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Migrations applied")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if err := seedHoldings(ctx, pool); err != nil {
		log.Fatalf("seed holdings: %v", err)
	}
	fmt.Println("✓ Holdings seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		n, err := seedTestData(ctx, pool)
		if err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Printf("✓ Test data seeded (%d resting orders)\n", n)
	}

	fmt.Println("\n=== Seed Complete ===")

	secret := os.Getenv("JWT_SECRET")
	if env == "dev" && secret != "" {
		fmt.Println("\nBearer tokens (DEV ONLY, 24h):")
		for _, u := range demoUsers {
			token, err := auth.IssueToken(u.id.String(), []byte(secret), 24*time.Hour, time.Now())
			if err != nil {
				log.Fatalf("issue token: %v", err)
			}
			fmt.Printf("  %s: %s\n", u.name, token)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// seedUsers resets the demo accounts to their starting balances.
func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now()
	for _, u := range demoUsers {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, name, account_number, currency, balance, locked, created_at, updated_at)
			VALUES ($1, $2, $3, 'KRW', $4::numeric, 0, $5, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    balance = EXCLUDED.balance,
			    locked = 0,
			    updated_at = EXCLUDED.updated_at
		`, u.id.String(), u.name, u.accountNumber, u.balance, now)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.name, err)
		}
	}
	return nil
}

func seedHoldings(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		now := time.Now()
		for _, u := range demoUsers {
			if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE user_id = $1 AND state = 'CREATED'`, u.id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM asset_holdings WHERE user_id = $1`, u.id.String()); err != nil {
				return err
			}
			for _, h := range u.holdings {
				_, err := tx.Exec(ctx, `
					INSERT INTO asset_holdings (user_id, market, amount, locked, avg_buy_price, updated_at)
					VALUES ($1, $2, $3::numeric, 0, $4::numeric, $5)
				`, u.id.String(), h.market, h.amount, h.avgBuyPrice, now)
				if err != nil {
					return fmt.Errorf("holding %s/%s: %w", u.name, h.market, err)
				}
			}
		}
		return nil
	})
}
