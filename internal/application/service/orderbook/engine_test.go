package orderbook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdata "mbobook/internal/domain/entity/marketdata"
	domain "mbobook/internal/domain/orderbook"
)

type memorySink struct {
	mu   sync.Mutex
	msgs []marketdata.MbpMessage
	err  error
}

func (s *memorySink) Publish(_ context.Context, msg *marketdata.MbpMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *memorySink) Close(context.Context) error { return nil }

func (s *memorySink) messages() []marketdata.MbpMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]marketdata.MbpMessage(nil), s.msgs...)
}

type memoryJournal struct {
	mu        sync.Mutex
	events    []domain.Event
	truncated int
}

func (j *memoryJournal) Append(ev domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memoryJournal) Replay(fn func(domain.Event) error) error {
	j.mu.Lock()
	events := append([]domain.Event(nil), j.events...)
	j.mu.Unlock()
	for _, ev := range events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (j *memoryJournal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = nil
	j.truncated++
	return nil
}

func (j *memoryJournal) Close() error { return nil }

type countingRecorder struct {
	mu       sync.Mutex
	applied  int
	rejected int
	orders   int
	served   int
	failures []string
}

func (r *countingRecorder) EventApplied(domain.Action, time.Duration) {
	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
}

func (r *countingRecorder) EventRejected(domain.Action) {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

func (r *countingRecorder) BookState(orders int, _, _ *domain.LevelView) {
	r.mu.Lock()
	r.orders = orders
	r.mu.Unlock()
}

func (r *countingRecorder) SnapshotServed(time.Duration) {
	r.mu.Lock()
	r.served++
	r.mu.Unlock()
}

func (r *countingRecorder) SinkFailed(sink string) {
	r.mu.Lock()
	r.failures = append(r.failures, sink)
	r.mu.Unlock()
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// startEngine runs an engine over a small grid and stops it at test end.
func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	book, err := domain.NewBook(0, 200000, 100)
	require.NoError(t, err)

	e := NewEngine(book, append([]Option{WithLogger(testLogger())}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
	return e
}

func submitAll(t *testing.T, e *Engine, events ...domain.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, e.Submit(context.Background(), ev))
	}
}

func add(id uint64, side domain.Side, price int64, size uint32) domain.Event {
	return domain.Event{OrderID: id, Action: domain.ActionAdd, Side: side, Price: price, Size: size}
}

func TestEngineQueriesSeePriorEvents(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	submitAll(t, e,
		add(1, domain.SideBid, 100000, 5),
		add(2, domain.SideBid, 100000, 7),
		add(3, domain.SideAsk, 100200, 4),
		add(4, domain.SideAsk, 100100, 1),
	)

	bbo, err := e.BestBidOffer(ctx)
	require.NoError(t, err)
	require.NotNil(t, bbo.Bid)
	require.NotNil(t, bbo.Ask)
	assert.Equal(t, domain.LevelView{Price: 100000, Size: 12, Count: 2}, *bbo.Bid)
	assert.Equal(t, domain.LevelView{Price: 100100, Size: 1, Count: 1}, *bbo.Ask)

	depth, err := e.Depth(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, depth.Asks, 1)

	pairs, err := e.DepthPairs(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, pairs.Depth)
	assert.Len(t, pairs.Levels, 3)

	o, ok, err := e.Order(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), o.Size)

	_, ok, err = e.Order(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Applied)
	assert.Equal(t, 4, st.Orders)
}

func TestEngineEmptyBookBBO(t *testing.T) {
	e := startEngine(t)
	bbo, err := e.BestBidOffer(context.Background())
	require.NoError(t, err)
	assert.Nil(t, bbo.Bid)
	assert.Nil(t, bbo.Ask)
}

func TestEngineRejectsWithoutStopping(t *testing.T) {
	rec := &countingRecorder{}
	e := startEngine(t, WithRecorder(rec))
	ctx := context.Background()

	submitAll(t, e,
		domain.Event{OrderID: 1, Action: domain.ActionAdd, Side: domain.SideNone, Price: 100000, Size: 1},
		domain.Event{OrderID: 2, Action: domain.Action("Z"), Side: domain.SideBid, Price: 100000, Size: 1},
		add(3, domain.SideBid, 100050, 1),
		add(4, domain.SideBid, 100000, 1),
	)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Applied)
	assert.Equal(t, uint64(3), st.Rejected)
	assert.Contains(t, st.LastError, "aligned")
	assert.Equal(t, 1, st.Orders)
	// every apply call is sampled, rejected ones included
	assert.Equal(t, 4, e.applyLatency.Len())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.applied)
	assert.Equal(t, 3, rec.rejected)
	assert.Equal(t, 1, rec.orders)
}

func TestEnginePublishesMbpAndJournals(t *testing.T) {
	sink := &memorySink{}
	journal := &memoryJournal{}
	e := startEngine(t, WithMbpSink(sink), WithJournal(journal))

	submitAll(t, e,
		add(1, domain.SideBid, 100000, 5),
		add(2, domain.SideAsk, 100100, 3),
		domain.Event{OrderID: 9, Action: domain.ActionAdd, Side: "X"},
	)
	_, err := e.Stats(context.Background())
	require.NoError(t, err)

	msgs := sink.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint8(1), msgs[0].Depth)
	assert.Equal(t, domain.BidAskPair{BidPx: 100000, BidSz: 5, BidCt: 1, AskPx: 100100, AskSz: 3, AskCt: 1}, msgs[1].Levels[0])

	journal.mu.Lock()
	assert.Len(t, journal.events, 2)
	journal.mu.Unlock()

	submitAll(t, e, domain.Event{Action: domain.ActionReset})
	_, err = e.Stats(context.Background())
	require.NoError(t, err)

	journal.mu.Lock()
	assert.Empty(t, journal.events)
	assert.Equal(t, 1, journal.truncated)
	journal.mu.Unlock()
}

func TestEngineSinkFailureIsRecorded(t *testing.T) {
	sink := &memorySink{err: errors.New("broker down")}
	rec := &countingRecorder{}
	e := startEngine(t, WithMbpSink(sink), WithRecorder(rec))

	submitAll(t, e, add(1, domain.SideBid, 100000, 5))
	st, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Applied)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"mbp"}, rec.failures)
}

func TestEngineRestoresFromJournal(t *testing.T) {
	journal := &memoryJournal{events: []domain.Event{
		add(1, domain.SideBid, 100000, 5),
		add(2, domain.SideAsk, 100100, 3),
		{OrderID: 1, Action: domain.ActionCancel, Side: domain.SideBid, Size: 2},
	}}
	e := startEngine(t, WithJournal(journal))

	bbo, err := e.BestBidOffer(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bbo.Bid)
	assert.Equal(t, uint64(3), bbo.Bid.Size)

	journal.mu.Lock()
	assert.Len(t, journal.events, 3, "replay must not re-append")
	journal.mu.Unlock()
}

func TestEngineSnapshotReport(t *testing.T) {
	rec := &countingRecorder{}
	e := startEngine(t, WithRecorder(rec))
	submitAll(t, e,
		add(1, domain.SideBid, 99900, 2),
		add(2, domain.SideBid, 100000, 1),
		add(3, domain.SideAsk, 100100, 4),
	)

	report, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.LevelView{{Price: 100000, Size: 1, Count: 1}, {Price: 99900, Size: 2, Count: 1}}, report.Bids)
	assert.Equal(t, []domain.LevelView{{Price: 100100, Size: 4, Count: 1}}, report.Asks)
	assert.GreaterOrEqual(t, report.SnapshotLatency.P99, report.SnapshotLatency.P50)
	assert.GreaterOrEqual(t, report.ApplyLatency.P99, report.ApplyLatency.P50)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.served)
	rec.mu.Unlock()
}

func TestEngineLifecycle(t *testing.T) {
	book, err := domain.NewBook(0, 1000, 10)
	require.NoError(t, err)
	e := NewEngine(book, WithQueueSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	_, err = e.Stats(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(context.Background()), ErrEngineRunning)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	assert.ErrorIs(t, e.Submit(context.Background(), add(1, domain.SideBid, 10, 1)), ErrEngineStopped)
	_, err = e.Depth(context.Background(), 5)
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestQueryHonorsContext(t *testing.T) {
	book, err := domain.NewBook(0, 1000, 10)
	require.NoError(t, err)
	// never started: the command is queued but never served
	e := NewEngine(book)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.BestBidOffer(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
