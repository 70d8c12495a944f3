package marketdata

import (
	"context"
	"time"

	marketdata "mbobook/internal/domain/entity/marketdata"
	"mbobook/internal/domain/orderbook"

	"github.com/sirupsen/logrus"
)

// DepthSource answers depth queries against the live book.
type DepthSource interface {
	Depth(ctx context.Context, levels int) (orderbook.DepthSnapshot, error)
}

// SnapshotSink accepts captured snapshots for persistence.
type SnapshotSink interface {
	AddOrderBook(snapshot *marketdata.OrderBookSnapshot) error
}

type SnapshotJobConfig struct {
	Symbol     string
	PriceScale int32
	Depth      int
	Interval   time.Duration
}

// SnapshotJob periodically captures the top of the live book.
type SnapshotJob struct {
	cfg    SnapshotJobConfig
	source DepthSource
	sink   SnapshotSink
	logger *logrus.Entry
	now    func() time.Time
}

func NewSnapshotJob(cfg SnapshotJobConfig, source DepthSource, sink SnapshotSink, logger *logrus.Logger) *SnapshotJob {
	return &SnapshotJob{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger.WithField("component", "snapshot_job"),
		now:    time.Now,
	}
}

// Run captures a snapshot every interval until ctx is done.
func (j *SnapshotJob) Run(ctx context.Context) error {
	if j.cfg.Interval <= 0 {
		return nil
	}
	t := time.NewTicker(j.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := j.Capture(ctx); err != nil {
				j.logger.WithError(err).Warn("snapshot capture failed")
			}
		}
	}
}

// Capture takes one snapshot and hands it to the sink.
func (j *SnapshotJob) Capture(ctx context.Context) error {
	view, err := j.source.Depth(ctx, j.cfg.Depth)
	if err != nil {
		return err
	}
	snap := marketdata.NewOrderBookSnapshot(j.cfg.Symbol, int32(j.cfg.Depth), j.cfg.PriceScale, view, j.now())
	return j.sink.AddOrderBook(&snap)
}
