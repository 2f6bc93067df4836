package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/K-crypto-trader/crpypto-trader/libs/config"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	TickerSourceRedis = "redis"
	TickerSourceKafka = "kafka"
	TickerSourceNone  = "none"

	RateBackendMemory = "memory"
	RateBackendRedis  = "redis"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaTopics struct {
	OrdersCreated   string
	OrdersCanceled  string
	OrdersCompleted string
	Tickers         string
	DeadLetter      string
}

type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ClientID      string
	ConsumerGroup string
	MaxAttempts   int
	Topics        KafkaTopics
	Breaker       BreakerConfig
}

type MatchingConfig struct {
	BatchSize           int
	Workers             int
	SoftDeadline        time.Duration
	MaxRetries          int
	RetryBackoff        time.Duration
	LockTimeout         time.Duration
	MaxConcurrentPasses int
}

type TickerConfig struct {
	Source  string
	Channel string
	Markets []string
}

type RateLimitConfig struct {
	Backend string
	Limit   int
	Window  time.Duration
}

type Config struct {
	App       base.AppConfig
	Store     string
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Matching  MatchingConfig
	Ticker    TickerConfig
	RateLimit RateLimitConfig
	JWTSecret string
}

func Load() (*Config, error) {
	path := base.Path()
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("store", StorePostgres)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "trader")
	v.SetDefault("kafka.consumer_group", "trader-matching")
	v.SetDefault("kafka.max_attempts", 5)
	v.SetDefault("kafka.topics.orders_created", "orders.created")
	v.SetDefault("kafka.topics.orders_canceled", "orders.canceled")
	v.SetDefault("kafka.topics.orders_completed", "orders.completed")
	v.SetDefault("kafka.topics.tickers", "tickers")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("kafka.breaker.max_failures", 5)
	v.SetDefault("kafka.breaker.timeout", "30s")
	v.SetDefault("matching.batch_size", 1000)
	v.SetDefault("matching.workers", 10)
	v.SetDefault("matching.soft_deadline", "60s")
	v.SetDefault("matching.max_retries", 3)
	v.SetDefault("matching.retry_backoff", "100ms")
	v.SetDefault("matching.lock_timeout", "5s")
	v.SetDefault("matching.max_concurrent_passes", 8)
	v.SetDefault("ticker.source", TickerSourceRedis)
	v.SetDefault("ticker.channel", "ticker")
	v.SetDefault("ticker.markets", []string{"KRW-BTC", "KRW-ETH", "KRW-XRP"})
	v.SetDefault("rate_limit.backend", RateBackendMemory)
	v.SetDefault("rate_limit.limit", 20)
	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("jwt_secret", "")

	cfg := &Config{
		App:   *appCfg,
		Store: strings.ToLower(envString("STORE", v.GetString("store"))),
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "trader")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "trader")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "trader")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ClientID:      envString("KAFKA_CLIENT_ID", v.GetString("kafka.client_id")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			MaxAttempts:   envInt("KAFKA_MAX_ATTEMPTS", v.GetInt("kafka.max_attempts")),
			Topics: KafkaTopics{
				OrdersCreated:   envString("KAFKA_ORDERS_CREATED_TOPIC", v.GetString("kafka.topics.orders_created")),
				OrdersCanceled:  envString("KAFKA_ORDERS_CANCELED_TOPIC", v.GetString("kafka.topics.orders_canceled")),
				OrdersCompleted: envString("KAFKA_ORDERS_COMPLETED_TOPIC", v.GetString("kafka.topics.orders_completed")),
				Tickers:         envString("KAFKA_TICKERS_TOPIC", v.GetString("kafka.topics.tickers")),
				DeadLetter:      envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
			Breaker: BreakerConfig{
				MaxFailures: uint32(envInt("KAFKA_BREAKER_MAX_FAILURES", v.GetInt("kafka.breaker.max_failures"))),
				Timeout:     envDuration("KAFKA_BREAKER_TIMEOUT", v.GetDuration("kafka.breaker.timeout")),
			},
		},
		Matching: MatchingConfig{
			BatchSize:           envInt("MATCHING_BATCH_SIZE", v.GetInt("matching.batch_size")),
			Workers:             envInt("MATCHING_WORKERS", v.GetInt("matching.workers")),
			SoftDeadline:        envDuration("MATCHING_SOFT_DEADLINE", v.GetDuration("matching.soft_deadline")),
			MaxRetries:          envInt("MATCHING_MAX_RETRIES", v.GetInt("matching.max_retries")),
			RetryBackoff:        envDuration("MATCHING_RETRY_BACKOFF", v.GetDuration("matching.retry_backoff")),
			LockTimeout:         envDuration("MATCHING_LOCK_TIMEOUT", v.GetDuration("matching.lock_timeout")),
			MaxConcurrentPasses: envInt("MATCHING_MAX_CONCURRENT_PASSES", v.GetInt("matching.max_concurrent_passes")),
		},
		Ticker: TickerConfig{
			Source:  strings.ToLower(envString("TICKER_SOURCE", v.GetString("ticker.source"))),
			Channel: envString("TICKER_CHANNEL", v.GetString("ticker.channel")),
			Markets: envCSV("TICKER_MARKETS", v.GetStringSlice("ticker.markets")),
		},
		RateLimit: RateLimitConfig{
			Backend: strings.ToLower(envString("RATE_LIMIT_BACKEND", v.GetString("rate_limit.backend"))),
			Limit:   envInt("RATE_LIMIT_LIMIT", v.GetInt("rate_limit.limit")),
			Window:  envDuration("RATE_LIMIT_WINDOW", v.GetDuration("rate_limit.window")),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("store must be %q or %q", StorePostgres, StoreMemory)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt secret required")
	}
	if c.Matching.BatchSize <= 0 {
		return fmt.Errorf("matching batch size must be positive")
	}
	if c.Matching.Workers <= 0 {
		return fmt.Errorf("matching workers must be positive")
	}
	if c.Matching.MaxRetries < 0 {
		return fmt.Errorf("matching max retries must be non-negative")
	}
	if c.Matching.MaxConcurrentPasses <= 0 {
		return fmt.Errorf("matching max concurrent passes must be positive")
	}
	switch c.Ticker.Source {
	case TickerSourceRedis:
		if c.Ticker.Channel == "" {
			return fmt.Errorf("ticker channel required")
		}
	case TickerSourceKafka:
		if !c.Kafka.Enabled {
			return fmt.Errorf("kafka ticker source requires kafka enabled")
		}
	case TickerSourceNone:
	default:
		return fmt.Errorf("unknown ticker source %q", c.Ticker.Source)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.OrdersCreated == "" || c.Kafka.Topics.OrdersCanceled == "" || c.Kafka.Topics.OrdersCompleted == "" || c.Kafka.Topics.Tickers == "" {
			return fmt.Errorf("kafka topics required")
		}
	}
	if c.RateLimit.Backend != RateBackendMemory && c.RateLimit.Backend != RateBackendRedis {
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv("CEX_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envString(key, "")); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(envString(key, "")); err == nil {
		return b
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(key, "")); err == nil {
		return d
	}
	return def
}

func envCSV(key string, def []string) []string {
	v := envString(key, "")
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
