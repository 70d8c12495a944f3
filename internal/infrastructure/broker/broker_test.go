package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"mbobook/internal/config"
	domain "mbobook/internal/domain/entity/marketdata"
	"mbobook/internal/domain/orderbook"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type recordedFlush struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recordedFlush) flush(_ context.Context, batch []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]int(nil), batch...))
	return r.err
}

func (r *recordedFlush) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBatchBufferFlushesOnSize(t *testing.T) {
	rec := &recordedFlush{}
	bb := newBatchBuffer(BatchConfig{Size: 3, Timeout: time.Hour}, rec.flush, testEntry())
	bb.setContext(context.Background())

	for i := 1; i <= 7; i++ {
		require.NoError(t, bb.enqueue(i))
	}
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}}, rec.batches)

	require.NoError(t, bb.drain(context.Background()))
	assert.Equal(t, []int{7}, rec.batches[2])
}

func TestBatchBufferFlushesOnTimeout(t *testing.T) {
	rec := &recordedFlush{}
	bb := newBatchBuffer(BatchConfig{Size: 100, Timeout: 20 * time.Millisecond}, rec.flush, testEntry())
	bb.setContext(context.Background())

	require.NoError(t, bb.enqueue(1))
	require.NoError(t, bb.enqueue(2))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, []int{1, 2}, rec.batches[0])
	rec.mu.Unlock()
}

func TestBatchBufferRequiresContext(t *testing.T) {
	bb := newBatchBuffer(BatchConfig{Size: 1}, (&recordedFlush{}).flush, testEntry())
	assert.ErrorIs(t, bb.enqueue(1), ErrBufferStopped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bb.setContext(ctx)
	assert.ErrorIs(t, bb.enqueue(1), context.Canceled)
}

func TestBatchBufferPropagatesFlushError(t *testing.T) {
	rec := &recordedFlush{err: errors.New("db down")}
	bb := newBatchBuffer(BatchConfig{Size: 1}, rec.flush, testEntry())
	bb.setContext(context.Background())
	assert.EqualError(t, bb.enqueue(1), "db down")
}

type memoryStore struct {
	mu    sync.Mutex
	saved []domain.OrderBookSnapshot
}

func (s *memoryStore) AddOrderBookSnapshots(_ context.Context, snaps []domain.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snaps...)
	return nil
}

func TestBatchWriterStopFlushesRemainder(t *testing.T) {
	store := &memoryStore{}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	w := NewBatchWriter(BatchConfig{Size: 10, Timeout: time.Hour}, store, l)

	assert.ErrorIs(t, w.AddOrderBook(&domain.OrderBookSnapshot{Symbol: "ESZ5"}), ErrBufferStopped)

	w.Run(context.Background())
	require.NoError(t, w.AddOrderBook(&domain.OrderBookSnapshot{Symbol: "ESZ5"}))
	require.NoError(t, w.AddOrderBook(&domain.OrderBookSnapshot{Symbol: "ESZ5"}))
	assert.Error(t, w.AddOrderBook(nil))
	assert.Empty(t, store.saved)

	require.NoError(t, w.Stop(context.Background()))
	assert.Len(t, store.saved, 2)
}

func TestDecodeEvents(t *testing.T) {
	single := `{"event":{"order_id":1,"action":"A","side":"B","price":100,"size":5}}`
	events, err := decodeEvents([]byte(single))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, orderbook.ActionAdd, events[0].Action)

	batch := `{"events":[{"order_id":1,"action":"A","side":"B","price":100,"size":5},{"order_id":1,"action":"C","side":"B","price":100,"size":2}]}`
	events, err = decodeEvents([]byte(batch))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, orderbook.ActionCancel, events[1].Action)
	assert.Equal(t, uint32(2), events[1].Size)

	bare := `{"order_id":9,"action":"R","side":"N","price":0,"size":0}`
	events, err = decodeEvents([]byte(bare))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, orderbook.ActionReset, events[0].Action)

	_, err = decodeEvents([]byte(`{}`))
	assert.ErrorIs(t, err, ErrEmptyPayload)
	_, err = decodeEvents([]byte(`not json`))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

type recordingSubmitter struct {
	events []orderbook.Event
	err    error
}

func (s *recordingSubmitter) Submit(_ context.Context, ev orderbook.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func TestConsumerHandleDelivery(t *testing.T) {
	sub := &recordingSubmitter{}
	c := &Consumer{engine: sub, logger: testEntry()}

	body := `{"events":[{"order_id":1,"action":"A","side":"B","price":100,"size":5},{"order_id":2,"action":"A","side":"A","price":110,"size":1}]}`
	require.NoError(t, c.handleDelivery(context.Background(), []byte(body)))
	require.Len(t, sub.events, 2)
	assert.Equal(t, uint64(2), sub.events[1].OrderID)

	sub.err = errors.New("engine stopped")
	assert.Error(t, c.handleDelivery(context.Background(), []byte(body)))
	assert.Error(t, c.handleDelivery(context.Background(), []byte(`[]`)))
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(rabbitConfig("", "mbo.events"), &recordingSubmitter{}, logrus.New())
	assert.Error(t, err)
	_, err = NewConsumer(rabbitConfig("amqp://localhost", ""), &recordingSubmitter{}, logrus.New())
	assert.Error(t, err)
	c, err := NewConsumer(rabbitConfig("amqp://localhost", "mbo.events"), &recordingSubmitter{}, logrus.New())
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	closed    bool
	failSeq   map[uint32]bool
	entered   chan struct{}
	release   chan struct{}
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	var m domain.MbpMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSeq[m.Sequence] {
		return errors.New("channel closed by broker")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestMbpPublisherBatchesAndDrains(t *testing.T) {
	ch := &fakeChannel{}
	p := newMbpPublisher(context.Background(), ch, "mbp.levels", BatchConfig{Size: 2, Timeout: time.Hour}, 4, testEntry().Logger)

	for seq := uint32(1); seq <= 3; seq++ {
		msg := domain.MbpMessage{Sequence: seq, Action: "A"}
		require.NoError(t, p.Publish(context.Background(), &msg))
	}
	assert.Eventually(t, func() bool { return ch.count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close(context.Background()))
	require.Len(t, ch.published, 3)
	assert.True(t, ch.closed)
	assert.Zero(t, p.Dropped())

	var last domain.MbpMessage
	require.NoError(t, json.Unmarshal(ch.published[2].Body, &last))
	assert.Equal(t, uint32(3), last.Sequence)
	assert.Equal(t, "application/json", ch.published[2].ContentType)
}

func TestMbpPublisherDropsWhenBacklogFull(t *testing.T) {
	ch := &fakeChannel{entered: make(chan struct{}), release: make(chan struct{})}
	p := newMbpPublisher(context.Background(), ch, "mbp.levels", BatchConfig{Size: 1, Timeout: time.Hour}, 1, testEntry().Logger)

	msg := domain.MbpMessage{Sequence: 1}
	require.NoError(t, p.Publish(context.Background(), &msg))
	<-ch.entered // worker is now stuck on the network

	msg.Sequence = 2
	require.NoError(t, p.Publish(context.Background(), &msg))
	msg.Sequence = 3
	assert.ErrorIs(t, p.Publish(context.Background(), &msg), ErrPublisherBacklog)
	assert.Equal(t, uint64(1), p.Dropped())

	go func() {
		for range ch.entered {
		}
	}()
	close(ch.release)

	require.NoError(t, p.Close(context.Background()))
	close(ch.entered)
	assert.Equal(t, 2, ch.count())
	assert.Equal(t, uint64(1), p.Dropped())
}

func TestMbpPublisherCountsFailedMessages(t *testing.T) {
	ch := &fakeChannel{failSeq: map[uint32]bool{2: true}}
	p := newMbpPublisher(context.Background(), ch, "mbp.levels", BatchConfig{Size: 3, Timeout: time.Hour}, 4, testEntry().Logger)

	for seq := uint32(1); seq <= 3; seq++ {
		msg := domain.MbpMessage{Sequence: seq}
		require.NoError(t, p.Publish(context.Background(), &msg))
	}
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, 2, ch.count())
	assert.Equal(t, uint64(1), p.Dropped())
}

func TestMbpPublisherRejectsAfterClose(t *testing.T) {
	ch := &fakeChannel{}
	p := newMbpPublisher(context.Background(), ch, "mbp.levels", BatchConfig{Size: 1, Timeout: time.Hour}, 1, testEntry().Logger)
	require.NoError(t, p.Close(context.Background()))

	msg := domain.MbpMessage{Sequence: 1}
	assert.ErrorIs(t, p.Publish(context.Background(), &msg), ErrPublisherClosed)
	assert.Zero(t, ch.count())
}

func rabbitConfig(url, exchange string) config.RabbitMQConfig {
	return config.RabbitMQConfig{URL: url, EventsExchange: exchange, Prefetch: 10}
}
