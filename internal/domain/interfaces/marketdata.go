package interfaces

import (
	"context"
	"time"

	marketdata "mbobook/internal/domain/entity/marketdata"
)

type SnapshotRepository interface {
	AddOrderBookSnapshot(ctx context.Context, snapshot *marketdata.OrderBookSnapshot) error
	AddOrderBookSnapshots(ctx context.Context, snapshots []marketdata.OrderBookSnapshot) error
	GetOrderBookSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time, depth int32) ([]marketdata.OrderBookSnapshot, error)
	GetLastOrderBookSnapshots(ctx context.Context, symbol string, depth int32, limit int) ([]marketdata.OrderBookSnapshot, error)

	Close()
}

// MbpSink receives the MBP-10 view produced after each applied event.
type MbpSink interface {
	Publish(ctx context.Context, msg *marketdata.MbpMessage) error
	Close(ctx context.Context) error
}
