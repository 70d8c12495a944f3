package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mbobook/internal/domain/orderbook"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, int64(20_000_000), cfg.Book.PriceMin)
	assert.Equal(t, int64(120_000_000_000), cfg.Book.PriceMax)
	assert.Equal(t, int64(10_000_000), cfg.Book.TickSize)
	assert.Equal(t, int32(9), cfg.Book.PriceScale)
	assert.Equal(t, 1.0, cfg.Feed.Speed)
	assert.False(t, cfg.Feed.AutoStart)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, 200*time.Millisecond, cfg.RabbitMQ.BatchTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("BOOK_PRICE_MIN", "0")
	t.Setenv("BOOK_PRICE_MAX", "200000")
	t.Setenv("BOOK_TICK_SIZE", "100")
	t.Setenv("FEED_SPEED", "0")
	t.Setenv("FEED_AUTOSTART", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SNAPSHOT_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, int64(200000), cfg.Book.PriceMax)
	assert.Equal(t, 0.0, cfg.Feed.Speed)
	assert.True(t, cfg.Feed.AutoStart)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Snapshots.Interval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "http")
		_, err := Load()
		assert.ErrorContains(t, err, "HTTP_PORT")
	})
	t.Run("grid", func(t *testing.T) {
		t.Setenv("BOOK_TICK_SIZE", "3")
		_, err := Load()
		assert.ErrorIs(t, err, orderbook.ErrInvalidGrid)
	})
	t.Run("speed", func(t *testing.T) {
		t.Setenv("FEED_SPEED", "-2")
		_, err := Load()
		assert.ErrorContains(t, err, "FEED_SPEED")
	})
}
