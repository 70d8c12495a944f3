package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "mbobook/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

var ErrBufferStopped = errors.New("batch buffer is not running")

// BatchConfig controls batching thresholds.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// SnapshotStore persists snapshot batches.
type SnapshotStore interface {
	AddOrderBookSnapshots(ctx context.Context, snapshots []domain.OrderBookSnapshot) error
}

// BatchWriter buffers captured order book snapshots and flushes them to the store.
type BatchWriter struct {
	orderBooks *batchBuffer[domain.OrderBookSnapshot]
}

func NewBatchWriter(cfg BatchConfig, store SnapshotStore, logger *logrus.Logger) *BatchWriter {
	componentLogger := logger.WithField("component", "batch_writer")
	return &BatchWriter{
		orderBooks: newBatchBuffer(cfg, store.AddOrderBookSnapshots, componentLogger.WithField("entity", "orderbook")),
	}
}

// Run sets the base context for asynchronous flush operations.
func (b *BatchWriter) Run(ctx context.Context) {
	b.orderBooks.setContext(ctx)
}

// Stop flushes remaining snapshots using the provided context.
func (b *BatchWriter) Stop(ctx context.Context) error {
	b.orderBooks.setContext(ctx)
	return b.orderBooks.drain(ctx)
}

// AddOrderBook appends a snapshot to the buffer.
func (b *BatchWriter) AddOrderBook(snapshot *domain.OrderBookSnapshot) error {
	if snapshot == nil {
		return errors.New("order book snapshot is nil")
	}
	return b.orderBooks.enqueue(*snapshot)
}

// batchBuffer collects items and flushes them once Size is reached or
// Timeout has passed since the first buffered item.
type batchBuffer[T any] struct {
	cfg     BatchConfig
	mu      sync.Mutex
	items   []T
	timer   *time.Timer
	flushFn func(context.Context, []T) error
	logger  *logrus.Entry
	ctx     context.Context
}

func newBatchBuffer[T any](cfg BatchConfig, flushFn func(context.Context, []T) error, logger *logrus.Entry) *batchBuffer[T] {
	return &batchBuffer[T]{
		cfg:     cfg,
		flushFn: flushFn,
		logger:  logger,
	}
}

func (bb *batchBuffer[T]) setContext(ctx context.Context) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	bb.ctx = ctx
}

func (bb *batchBuffer[T]) enqueue(item T) error {
	bb.mu.Lock()
	ctx := bb.ctx
	if ctx == nil {
		bb.mu.Unlock()
		return ErrBufferStopped
	}
	if err := ctx.Err(); err != nil {
		bb.mu.Unlock()
		return err
	}
	bb.items = append(bb.items, item)
	var batch []T
	if len(bb.items) >= max(bb.cfg.Size, 1) {
		batch = bb.takeBatchLocked()
	} else if bb.timer == nil && bb.cfg.Timeout > 0 {
		bb.startTimerLocked()
	}
	bb.mu.Unlock()

	return bb.flush(ctx, batch)
}

func (bb *batchBuffer[T]) startTimerLocked() {
	bb.timer = time.AfterFunc(bb.cfg.Timeout, func() {
		bb.mu.Lock()
		batch := bb.takeBatchLocked()
		ctx := bb.ctx
		bb.mu.Unlock()

		if err := bb.flush(ctx, batch); err != nil {
			bb.logger.WithError(err).Warn("batch flush failed")
		}
	})
}

func (bb *batchBuffer[T]) takeBatchLocked() []T {
	if bb.timer != nil {
		bb.timer.Stop()
		bb.timer = nil
	}
	if len(bb.items) == 0 {
		return nil
	}
	batch := make([]T, len(bb.items))
	copy(batch, bb.items)
	bb.items = bb.items[:0]
	return batch
}

func (bb *batchBuffer[T]) flush(ctx context.Context, batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := bb.flushFn(ctx, batch); err != nil {
		return err
	}
	bb.logger.WithFields(logrus.Fields{
		"size":    len(batch),
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("flushed batch")
	return nil
}

func (bb *batchBuffer[T]) drain(ctx context.Context) error {
	bb.mu.Lock()
	batch := bb.takeBatchLocked()
	bb.mu.Unlock()
	return bb.flush(ctx, batch)
}
