package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domain "mbobook/internal/domain/entity/marketdata"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// publishBacklog is the number of full batches waiting for the network.
const publishBacklog = 64

var (
	ErrPublisherBacklog = errors.New("mbp publisher backlog is full")
	ErrPublisherClosed  = errors.New("mbp publisher is closed")
)

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// MbpPublisher batches MBP-10 messages and publishes them to a fanout exchange
// from its own goroutine. Callers never wait on the broker: a batch that does
// not fit into the backlog is dropped and counted.
type MbpPublisher struct {
	exchange string
	channel  amqpChannel
	buffer   *batchBuffer[domain.MbpMessage]
	logger   *logrus.Entry

	stateMu sync.RWMutex
	closing bool
	out     chan []domain.MbpMessage
	done    chan struct{}
	dropped atomic.Uint64
}

// NewMbpPublisher opens a channel on conn and declares the exchange.
func NewMbpPublisher(ctx context.Context, conn *amqp.Connection, exchange string, batch BatchConfig, logger *logrus.Logger) (*MbpPublisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return newMbpPublisher(ctx, ch, exchange, batch, publishBacklog, logger), nil
}

func newMbpPublisher(ctx context.Context, ch amqpChannel, exchange string, batch BatchConfig, backlog int, logger *logrus.Logger) *MbpPublisher {
	entry := logger.WithFields(logrus.Fields{"component": "mbp_publisher", "exchange": exchange})
	p := &MbpPublisher{
		exchange: exchange,
		channel:  ch,
		logger:   entry,
		out:      make(chan []domain.MbpMessage, max(backlog, 1)),
		done:     make(chan struct{}),
	}
	p.buffer = newBatchBuffer(batch, p.handoff, entry)
	p.buffer.setContext(ctx)
	go p.loop(context.WithoutCancel(ctx))
	return p
}

// Publish enqueues msg; it is sent once the batch fills or times out.
func (p *MbpPublisher) Publish(_ context.Context, msg *domain.MbpMessage) error {
	if msg == nil {
		return errors.New("mbp message is nil")
	}
	return p.buffer.enqueue(*msg)
}

// Dropped reports how many messages never reached the broker.
func (p *MbpPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes pending messages, waits for the publishing goroutine and
// closes the channel.
func (p *MbpPublisher) Close(ctx context.Context) error {
	p.stateMu.Lock()
	p.closing = true
	p.stateMu.Unlock()

	err := p.buffer.drain(ctx)

	p.stateMu.Lock()
	if p.out != nil {
		close(p.out)
		p.out = nil
	}
	p.stateMu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("wait for mbp publisher: %w", ctx.Err()))
	}

	if cerr := p.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
		err = errors.Join(err, fmt.Errorf("close rabbitmq channel: %w", cerr))
	}
	if n := p.dropped.Load(); n > 0 {
		p.logger.WithField("dropped", n).Warn("mbp publisher closed with dropped messages")
	}
	return err
}

// handoff passes a full batch to the publishing goroutine. During Close it
// waits for room instead of dropping.
func (p *MbpPublisher) handoff(ctx context.Context, batch []domain.MbpMessage) error {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	if p.out == nil {
		p.drop(len(batch), ErrPublisherClosed)
		return ErrPublisherClosed
	}
	if p.closing {
		select {
		case p.out <- batch:
			return nil
		case <-ctx.Done():
			p.drop(len(batch), ctx.Err())
			return ctx.Err()
		}
	}
	select {
	case p.out <- batch:
		return nil
	default:
		p.drop(len(batch), ErrPublisherBacklog)
		return ErrPublisherBacklog
	}
}

func (p *MbpPublisher) drop(n int, reason error) {
	total := p.dropped.Add(uint64(n))
	p.logger.WithError(reason).WithFields(logrus.Fields{
		"messages": n,
		"total":    total,
	}).Warn("mbp messages dropped")
}

func (p *MbpPublisher) loop(ctx context.Context) {
	defer close(p.done)
	for batch := range p.out {
		if err := p.publishBatch(ctx, batch); err != nil {
			p.logger.WithError(err).Warn("mbp batch publish failed")
		}
	}
}

// publishBatch sends one message per entry and keeps going past failures;
// every failed entry is counted as dropped.
func (p *MbpPublisher) publishBatch(ctx context.Context, batch []domain.MbpMessage) error {
	var (
		firstErr error
		failed   int
	)
	now := time.Now().UTC()
	for i := range batch {
		body, err := json.Marshal(&batch[i])
		if err == nil {
			err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Transient,
				Timestamp:    now,
				Body:         body,
			})
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("publish mbp message %d: %w", batch[i].Sequence, err)
			}
		}
	}
	if failed > 0 {
		p.drop(failed, firstErr)
	}
	return firstErr
}
