package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/migrate"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	containerImage   = "postgres:17.0-alpine3.20"
	containerTimeout = 2 * time.Minute
)

// SetupTestDB connects to the database named by the POSTGRES_* environment.
func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "trader"),
		getEnv("POSTGRES_PASSWORD", "trader"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "trader"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrate.Up(ctx, pool, migrations.FS, nil); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// StartPostgres runs a throwaway postgres container with the schema applied.
// When TEST_POSTGRES_CONTAINER is unset it falls back to SetupTestDB.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_POSTGRES_CONTAINER") == "" {
		pool, err := SetupTestDB()
		if err != nil {
			t.Skipf("db connection failed: %v", err)
		}
		t.Cleanup(pool.Close)
		return pool
	}

	ctx, cancel := context.WithTimeout(context.Background(), containerTimeout)
	t.Cleanup(cancel)

	container, err := pgcontainer.Run(ctx,
		containerImage,
		pgcontainer.WithDatabase("trader_test"),
		pgcontainer.WithUsername("trader"),
		pgcontainer.WithPassword("trader"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrate.Up(ctx, pool, migrations.FS, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// CleanupTestData removes everything except the seeded demo users.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		"DELETE FROM orders",
		"DELETE FROM asset_holdings WHERE user_id NOT IN ('00000000-0000-0000-0000-000000000001','00000000-0000-0000-0000-000000000002')",
		"DELETE FROM users WHERE id NOT IN ('00000000-0000-0000-0000-000000000001','00000000-0000-0000-0000-000000000002')",
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
