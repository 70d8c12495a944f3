package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mbobook/internal/config"
	"mbobook/internal/domain/orderbook"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventSubmitter is the engine entry point fed by the consumer.
type EventSubmitter interface {
	Submit(ctx context.Context, ev orderbook.Event) error
}

// Consumer subscribes to the MBO events fanout exchange and forwards every
// event, in delivery order, into the engine.
type Consumer struct {
	cfg    config.RabbitMQConfig
	engine EventSubmitter
	logger *logrus.Entry

	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
}

// NewConsumer prepares a consumer for the given configuration.
func NewConsumer(cfg config.RabbitMQConfig, engine EventSubmitter, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.EventsExchange == "" {
		return nil, errors.New("events exchange is required")
	}
	return &Consumer{
		cfg:    cfg,
		engine: engine,
		logger: logger.WithField("component", "mbo_consumer"),
	}, nil
}

// Start establishes the AMQP connection and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn

	deliveries, err := c.subscribe()
	if err != nil {
		c.Close()
		return err
	}

	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)

	c.logger.WithField("exchange", c.cfg.EventsExchange).Info("rabbitmq consumer started")
	return nil
}

// Close stops consumption and releases resources.
func (c *Consumer) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	c.wg.Wait()
	return errors.Join(errs...)
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	exchange := c.cfg.EventsExchange
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue for %s: %w", exchange, err)
	}
	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s to %s: %w", queue.Name, exchange, err)
	}
	if err := ch.Qos(max(c.cfg.Prefetch, 1), 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("start consume: %w", err)
	}
	c.channel = ch
	return deliveries, nil
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.handleDelivery(ctx, delivery.Body); err != nil {
				c.logger.WithError(err).Warn("failed to process message")
				// a body that cannot be decoded will never succeed; drop it
				_ = delivery.Nack(false, false)
				continue
			}
			if err := delivery.Ack(false); err != nil {
				c.logger.WithError(err).Warn("failed to ack delivery")
			}
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, body []byte) error {
	events, err := decodeEvents(body)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := c.engine.Submit(ctx, ev); err != nil {
			return fmt.Errorf("submit event %d: %w", ev.OrderID, err)
		}
	}
	return nil
}
