package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mbobook/internal/domain/orderbook"
)

const (
	defaultEnv             = "development"
	defaultHTTPHost        = "0.0.0.0"
	defaultHTTPPort        = 8080
	defaultRedisAddr       = "localhost:6379"
	defaultRedisDB         = 0
	defaultCacheTTLSeconds = 30

	defaultSymbol     = "ES"
	defaultPriceMin   = 20_000_000
	defaultPriceMax   = 120_000_000_000
	defaultTickSize   = 10_000_000
	defaultPriceScale = 9
	defaultQueueSize  = 4096

	defaultFeedSpeed = 1.0

	defaultEventsExchange = "mbo.events"
	defaultMbpExchange    = "mbp.levels"
	defaultPrefetch       = 256
	defaultBatchSize      = 500
	defaultBatchTimeout   = 200 * time.Millisecond

	defaultMbpTopic = "mbp-10"

	defaultSnapshotInterval = 0
	defaultSnapshotDepth    = 10

	defaultLogLevel = "info"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env       string
	HTTP      HTTPConfig
	Book      BookConfig
	Feed      FeedConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RabbitMQ  RabbitMQConfig
	Kafka     KafkaConfig
	Journal   JournalConfig
	Snapshots SnapshotConfig
	Log       LogConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// BookConfig describes the price grid of the mirrored instrument.
// Prices are fixed-point integers scaled by 10^PriceScale.
type BookConfig struct {
	Symbol     string
	PriceMin   int64
	PriceMax   int64
	TickSize   int64
	PriceScale int32
	QueueSize  int
}

// FeedConfig controls replay of a recorded MBO feed file.
type FeedConfig struct {
	Path      string
	Speed     float64
	AutoStart bool
}

// PostgresConfig stores database connection parameters. An empty DSN
// disables snapshot history and book profiles.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	TTLSeconds int
}

// RabbitMQConfig configures live MBO ingress and MBP-10 egress.
type RabbitMQConfig struct {
	URL            string
	EventsExchange string
	MbpExchange    string
	Prefetch       int
	BatchSize      int
	BatchTimeout   time.Duration
}

// KafkaConfig configures the optional Kafka MBP-10 sink.
type KafkaConfig struct {
	Brokers  []string
	MbpTopic string
}

// JournalConfig points at the on-disk event journal; empty disables it.
type JournalConfig struct {
	Dir string
}

// SnapshotConfig drives periodic depth captures into Postgres.
type SnapshotConfig struct {
	Interval time.Duration
	Depth    int
}

type LogConfig struct {
	Level string
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	host := getString("HTTP_HOST", defaultHTTPHost)
	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}

	book, err := loadBook()
	if err != nil {
		return nil, err
	}

	speed, err := getFloat("FEED_SPEED", defaultFeedSpeed)
	if err != nil {
		return nil, fmt.Errorf("parse FEED_SPEED: %w", err)
	}
	if speed < 0 {
		return nil, fmt.Errorf("parse FEED_SPEED: speed %v must not be negative", speed)
	}
	autoStart, err := getBool("FEED_AUTOSTART", false)
	if err != nil {
		return nil, fmt.Errorf("parse FEED_AUTOSTART: %w", err)
	}

	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}

	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse CACHE_TTL_SECONDS: %w", err)
	}

	prefetch, err := getInt("RABBITMQ_PREFETCH", defaultPrefetch)
	if err != nil {
		return nil, fmt.Errorf("parse RABBITMQ_PREFETCH: %w", err)
	}
	batchSize, err := getInt("RABBITMQ_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, fmt.Errorf("parse RABBITMQ_BATCH_SIZE: %w", err)
	}
	batchTimeout, err := getDuration("RABBITMQ_BATCH_TIMEOUT", defaultBatchTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse RABBITMQ_BATCH_TIMEOUT: %w", err)
	}

	snapInterval, err := getDuration("SNAPSHOT_INTERVAL", defaultSnapshotInterval)
	if err != nil {
		return nil, fmt.Errorf("parse SNAPSHOT_INTERVAL: %w", err)
	}
	snapDepth, err := getInt("SNAPSHOT_DEPTH", defaultSnapshotDepth)
	if err != nil {
		return nil, fmt.Errorf("parse SNAPSHOT_DEPTH: %w", err)
	}

	return &Config{
		Env:  getString("APP_ENV", defaultEnv),
		HTTP: HTTPConfig{Host: host, Port: port},
		Book: book,
		Feed: FeedConfig{
			Path:      os.Getenv("FEED_PATH"),
			Speed:     speed,
			AutoStart: autoStart,
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr:     getString("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{
			TTLSeconds: cacheTTL,
		},
		RabbitMQ: RabbitMQConfig{
			URL:            os.Getenv("RABBITMQ_URL"),
			EventsExchange: getString("RABBITMQ_EVENTS_EXCHANGE", defaultEventsExchange),
			MbpExchange:    getString("RABBITMQ_MBP_EXCHANGE", defaultMbpExchange),
			Prefetch:       prefetch,
			BatchSize:      batchSize,
			BatchTimeout:   batchTimeout,
		},
		Kafka: KafkaConfig{
			Brokers:  getList("KAFKA_BROKERS"),
			MbpTopic: getString("KAFKA_MBP_TOPIC", defaultMbpTopic),
		},
		Journal: JournalConfig{
			Dir: os.Getenv("JOURNAL_DIR"),
		},
		Snapshots: SnapshotConfig{
			Interval: snapInterval,
			Depth:    snapDepth,
		},
		Log: LogConfig{
			Level: getString("LOG_LEVEL", defaultLogLevel),
		},
	}, nil
}

func loadBook() (BookConfig, error) {
	priceMin, err := getInt64("BOOK_PRICE_MIN", defaultPriceMin)
	if err != nil {
		return BookConfig{}, fmt.Errorf("parse BOOK_PRICE_MIN: %w", err)
	}
	priceMax, err := getInt64("BOOK_PRICE_MAX", defaultPriceMax)
	if err != nil {
		return BookConfig{}, fmt.Errorf("parse BOOK_PRICE_MAX: %w", err)
	}
	tick, err := getInt64("BOOK_TICK_SIZE", defaultTickSize)
	if err != nil {
		return BookConfig{}, fmt.Errorf("parse BOOK_TICK_SIZE: %w", err)
	}
	scale, err := getInt("BOOK_PRICE_SCALE", defaultPriceScale)
	if err != nil {
		return BookConfig{}, fmt.Errorf("parse BOOK_PRICE_SCALE: %w", err)
	}
	queue, err := getInt("BOOK_QUEUE_SIZE", defaultQueueSize)
	if err != nil {
		return BookConfig{}, fmt.Errorf("parse BOOK_QUEUE_SIZE: %w", err)
	}

	if _, err := orderbook.NewPriceIndex(priceMin, priceMax, tick); err != nil {
		return BookConfig{}, fmt.Errorf("book grid: %w", err)
	}

	return BookConfig{
		Symbol:     getString("BOOK_SYMBOL", defaultSymbol),
		PriceMin:   priceMin,
		PriceMax:   priceMax,
		TickSize:   tick,
		PriceScale: int32(scale),
		QueueSize:  queue,
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int64: %w", key, value, err)
	}
	return parsed, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to float: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("convert %s value %q to bool: %w", key, value, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to duration: %w", key, value, err)
	}
	return parsed, nil
}

func getList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
