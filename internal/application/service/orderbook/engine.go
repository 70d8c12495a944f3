package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	marketdata "mbobook/internal/domain/entity/marketdata"
	interfaces "mbobook/internal/domain/interfaces"
	domain "mbobook/internal/domain/orderbook"

	"github.com/sirupsen/logrus"
)

var (
	ErrEngineRunning = errors.New("engine already running")
	ErrEngineStopped = errors.New("engine stopped")
)

const defaultQueueSize = 4096

// Recorder receives engine metrics. All methods are called from the engine
// goroutine except SnapshotServed.
type Recorder interface {
	EventApplied(action domain.Action, took time.Duration)
	EventRejected(action domain.Action)
	BookState(orders int, bestBid, bestAsk *domain.LevelView)
	SnapshotServed(took time.Duration)
	SinkFailed(sink string)
}

// Engine owns a Book on a single goroutine. Events and queries share one
// command channel, so a query observes every event submitted before it.
type Engine struct {
	book *domain.Book
	cmds chan command
	done chan struct{}

	logger   *logrus.Entry
	sinks    []interfaces.MbpSink
	journal  interfaces.EventJournal
	recorder Recorder

	applyLatency    *LatencyTracker
	snapshotLatency *LatencyTracker

	running  atomic.Bool
	applied  atomic.Uint64
	rejected atomic.Uint64
	lastErr  atomic.Pointer[string]
}

type command struct {
	event domain.Event
	query func(*domain.Book)
}

type Option func(*Engine)

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.WithField("component", "engine")
		}
	}
}

// WithMbpSink adds a sink; every sink receives each MBP-10 message in order.
func WithMbpSink(sink interfaces.MbpSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

func WithJournal(journal interfaces.EventJournal) Option {
	return func(e *Engine) { e.journal = journal }
}

func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

func WithQueueSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.cmds = make(chan command, size)
		}
	}
}

func NewEngine(book *domain.Book, opts ...Option) *Engine {
	silent := logrus.New()
	silent.SetLevel(logrus.PanicLevel)

	e := &Engine{
		book:            book,
		cmds:            make(chan command, defaultQueueSize),
		done:            make(chan struct{}),
		logger:          silent.WithField("component", "engine"),
		applyLatency:    NewLatencyTracker(defaultMaxSamples),
		snapshotLatency: NewLatencyTracker(defaultMaxSamples),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run replays the journal, then serves commands until ctx is done.
// An Engine runs at most once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer close(e.done)

	if e.journal != nil {
		if err := e.restore(); err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"price_min": e.book.Grid().Min(),
		"price_max": e.book.Grid().Max(),
		"tick":      e.book.Grid().TickSize(),
		"orders":    e.book.Len(),
	}).Info("engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.WithField("applied", e.applied.Load()).Info("engine stopped")
			return ctx.Err()
		case cmd := <-e.cmds:
			if cmd.query != nil {
				cmd.query(e.book)
				continue
			}
			e.apply(ctx, cmd.event)
		}
	}
}

// Submit enqueues one event. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, ev domain.Event) error {
	if e.stopped() {
		return ErrEngineStopped
	}
	select {
	case e.cmds <- command{event: ev}:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) restore() error {
	replayed := 0
	err := e.journal.Replay(func(ev domain.Event) error {
		if err := e.book.Apply(ev); err != nil {
			e.logger.WithError(err).WithField("order_id", ev.OrderID).Warn("skip journaled event")
			return nil
		}
		replayed++
		return nil
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		e.logger.WithFields(logrus.Fields{
			"events": replayed,
			"orders": e.book.Len(),
		}).Info("book restored from journal")
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, ev domain.Event) {
	start := time.Now()
	err := e.book.Apply(ev)
	took := time.Since(start)
	e.applyLatency.Add(float64(took.Nanoseconds()) / 1e3)

	if err != nil {
		e.rejected.Add(1)
		msg := err.Error()
		e.lastErr.Store(&msg)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": ev.OrderID,
			"action":   string(ev.Action),
			"side":     string(ev.Side),
			"price":    ev.Price,
		}).Debug("event rejected")
		if e.recorder != nil {
			e.recorder.EventRejected(ev.Action)
		}
		return
	}

	e.applied.Add(1)

	if e.recorder != nil {
		e.recorder.EventApplied(ev.Action, took)
		bid, bidOK := e.book.BestBid()
		ask, askOK := e.book.BestAsk()
		e.recorder.BookState(e.book.Len(), levelPtr(bid, bidOK), levelPtr(ask, askOK))
	}

	if e.journal != nil {
		var jerr error
		if ev.Action == domain.ActionReset {
			jerr = e.journal.Truncate()
		} else {
			jerr = e.journal.Append(ev)
		}
		if jerr != nil {
			e.logger.WithError(jerr).Warn("journal write failed")
			if e.recorder != nil {
				e.recorder.SinkFailed("journal")
			}
		}
	}

	if len(e.sinks) > 0 {
		msg := marketdata.Build(e.book, ev)
		for _, sink := range e.sinks {
			if err := sink.Publish(ctx, &msg); err != nil {
				e.logger.WithError(err).Warn("mbp publish failed")
				if e.recorder != nil {
					e.recorder.SinkFailed("mbp")
				}
			}
		}
	}
}

// query runs fn on the engine goroutine and waits for its result.
func query[T any](ctx context.Context, e *Engine, fn func(*domain.Book) T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	cmd := command{query: func(b *domain.Book) { reply <- fn(b) }}

	if e.stopped() {
		return zero, ErrEngineStopped
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		// the command may still have been served just before shutdown
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrEngineStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// BBO is the best bid and offer; nil when the side is empty.
type BBO struct {
	Bid *domain.LevelView `json:"bid"`
	Ask *domain.LevelView `json:"ask"`
}

func (e *Engine) BestBidOffer(ctx context.Context) (BBO, error) {
	return query(ctx, e, func(b *domain.Book) BBO {
		bid, bidOK := b.BestBid()
		ask, askOK := b.BestAsk()
		return BBO{Bid: levelPtr(bid, bidOK), Ask: levelPtr(ask, askOK)}
	})
}

func (e *Engine) Depth(ctx context.Context, levels int) (domain.DepthSnapshot, error) {
	return query(ctx, e, func(b *domain.Book) domain.DepthSnapshot {
		return b.Depth(levels)
	})
}

// Pairs is a market-by-price view and the number of rows backed by a level.
type Pairs struct {
	Levels []domain.BidAskPair `json:"levels"`
	Depth  int                 `json:"depth"`
}

func (e *Engine) DepthPairs(ctx context.Context, levels int) (Pairs, error) {
	return query(ctx, e, func(b *domain.Book) Pairs {
		rows, n := b.DepthPairs(levels)
		return Pairs{Levels: rows, Depth: n}
	})
}

func (e *Engine) Order(ctx context.Context, id uint64) (domain.ResidentOrder, bool, error) {
	type found struct {
		order domain.ResidentOrder
		ok    bool
	}
	res, err := query(ctx, e, func(b *domain.Book) found {
		o, ok := b.Order(id)
		return found{order: o, ok: ok}
	})
	return res.order, res.ok, err
}

// Queue returns the resting orders at one price in time priority.
func (e *Engine) Queue(ctx context.Context, side domain.Side, price int64) ([]domain.ResidentOrder, error) {
	type result struct {
		orders []domain.ResidentOrder
		err    error
	}
	res, err := query(ctx, e, func(b *domain.Book) result {
		orders, err := b.Queue(side, price)
		return result{orders: orders, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.orders, res.err
}

// SnapshotReport is the full book plus latency percentiles.
type SnapshotReport struct {
	domain.DepthSnapshot
	SnapshotLatency LatencyReport      `json:"latency_get_snapshot"`
	ApplyLatency    ApplyLatencyReport `json:"latency_apply_mbo_msg"`
}

// Snapshot returns every non-empty level. The round trip is recorded in
// milliseconds in the snapshot latency window before the report is built.
func (e *Engine) Snapshot(ctx context.Context) (SnapshotReport, error) {
	start := time.Now()
	snap, err := query(ctx, e, func(b *domain.Book) domain.DepthSnapshot {
		return b.Snapshot()
	})
	if err != nil {
		return SnapshotReport{}, err
	}
	took := time.Since(start)
	e.snapshotLatency.Add(float64(took.Nanoseconds()) / 1e6)
	if e.recorder != nil {
		e.recorder.SnapshotServed(took)
	}

	return SnapshotReport{
		DepthSnapshot:   snap,
		SnapshotLatency: e.snapshotLatency.Report(),
		ApplyLatency:    newApplyLatencyReport(e.applyLatency.Report()),
	}, nil
}

type Stats struct {
	Applied         uint64             `json:"applied"`
	Rejected        uint64             `json:"rejected"`
	Orders          int                `json:"orders"`
	LastError       string             `json:"last_error,omitempty"`
	ApplyLatency    ApplyLatencyReport `json:"latency_apply_mbo_msg"`
	SnapshotLatency LatencyReport      `json:"latency_get_snapshot"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	orders, err := query(ctx, e, func(b *domain.Book) int { return b.Len() })
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Applied:         e.applied.Load(),
		Rejected:        e.rejected.Load(),
		Orders:          orders,
		ApplyLatency:    newApplyLatencyReport(e.applyLatency.Report()),
		SnapshotLatency: e.snapshotLatency.Report(),
	}
	if msg := e.lastErr.Load(); msg != nil {
		st.LastError = *msg
	}
	return st, nil
}

// Applied is the number of events accepted since start or the last ResetCounters.
func (e *Engine) Applied() uint64 { return e.applied.Load() }

// ResetCounters clears apply latency samples and event counters.
func (e *Engine) ResetCounters() {
	e.applyLatency.Reset()
	e.applied.Store(0)
	e.rejected.Store(0)
	e.lastErr.Store(nil)
}

// Grid is immutable after construction and safe to read from any goroutine.
func (e *Engine) Grid() domain.PriceIndex { return e.book.Grid() }

func (e *Engine) stopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func levelPtr(lv domain.LevelView, ok bool) *domain.LevelView {
	if !ok {
		return nil
	}
	return &lv
}
