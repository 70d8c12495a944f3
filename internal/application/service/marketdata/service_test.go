package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdata "mbobook/internal/domain/entity/marketdata"
	"mbobook/internal/domain/orderbook"
)

type stubRepo struct {
	added      []marketdata.OrderBookSnapshot
	from, to   time.Time
	lastSymbol string
	lastLimit  int
	closed     bool
}

func (r *stubRepo) AddOrderBookSnapshot(_ context.Context, s *marketdata.OrderBookSnapshot) error {
	r.added = append(r.added, *s)
	return nil
}

func (r *stubRepo) AddOrderBookSnapshots(_ context.Context, s []marketdata.OrderBookSnapshot) error {
	r.added = append(r.added, s...)
	return nil
}

func (r *stubRepo) GetOrderBookSnapshotsBetween(_ context.Context, symbol string, from, to time.Time, _ int32) ([]marketdata.OrderBookSnapshot, error) {
	r.lastSymbol, r.from, r.to = symbol, from, to
	return nil, nil
}

func (r *stubRepo) GetLastOrderBookSnapshots(_ context.Context, symbol string, _ int32, limit int) ([]marketdata.OrderBookSnapshot, error) {
	r.lastSymbol, r.lastLimit = symbol, limit
	return nil, nil
}

func (r *stubRepo) Close() { r.closed = true }

func TestServiceValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	assert.ErrorIs(t, svc.AddOrderBookSnapshot(ctx, nil), ErrNilOrderBook)
	require.NoError(t, svc.AddOrderBookSnapshots(ctx, nil))
	assert.Empty(t, repo.added)

	_, err := svc.GetLastOrderBookSnapshots(ctx, "ES", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = svc.GetLastOrderBookSnapshots(ctx, "", 10, 5)
	assert.ErrorIs(t, err, ErrMissingSymbol)
	_, err = svc.GetOrderBookSnapshotsBetween(ctx, "ES", -1, time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidDepth)

	_, err = svc.GetLastOrderBookSnapshots(ctx, "ES", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, repo.lastLimit)

	svc.Close()
	assert.True(t, repo.closed)
}

func TestServiceSwapsInvertedRange(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	_, err := svc.GetOrderBookSnapshotsBetween(context.Background(), "ES", 10, late, early)
	require.NoError(t, err)
	assert.Equal(t, early, repo.from)
	assert.Equal(t, late, repo.to)
}

type stubSource struct {
	view orderbook.DepthSnapshot
	err  error
	n    int
}

func (s *stubSource) Depth(_ context.Context, levels int) (orderbook.DepthSnapshot, error) {
	s.n = levels
	return s.view, s.err
}

type stubSink struct{ got []marketdata.OrderBookSnapshot }

func (s *stubSink) AddOrderBook(snap *marketdata.OrderBookSnapshot) error {
	s.got = append(s.got, *snap)
	return nil
}

func TestSnapshotJobCapture(t *testing.T) {
	source := &stubSource{view: orderbook.DepthSnapshot{
		Bids: []orderbook.LevelView{{Price: 12345, Size: 2, Count: 1}},
	}}
	sink := &stubSink{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	job := NewSnapshotJob(SnapshotJobConfig{Symbol: "ES", PriceScale: 2, Depth: 5, Interval: time.Second}, source, sink, logger)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return at }

	require.NoError(t, job.Capture(context.Background()))
	assert.Equal(t, 5, source.n)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "ES", sink.got[0].Symbol)
	assert.Equal(t, int32(5), sink.got[0].Depth)
	assert.Equal(t, at, sink.got[0].SnapshotAt)
	assert.Equal(t, "123.45", sink.got[0].Bids[0].DisplayPrice)

	source.err = errors.New("engine stopped")
	assert.Error(t, job.Capture(context.Background()))
	assert.Len(t, sink.got, 1)
}

func TestSnapshotJobDisabled(t *testing.T) {
	logger := logrus.New()
	job := NewSnapshotJob(SnapshotJobConfig{}, &stubSource{}, &stubSink{}, logger)
	assert.NoError(t, job.Run(context.Background()))
}
