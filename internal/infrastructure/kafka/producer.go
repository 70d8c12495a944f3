package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "mbobook/internal/domain/entity/marketdata"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes MBP-10 messages to a topic, keyed by instrument id so a
// partition sees one instrument in sequence order.
type Producer struct {
	writer messageWriter
	logger *logrus.Entry
}

// NewProducer builds an asynchronous writer; delivery failures are logged
// from the completion callback.
func NewProducer(brokers []string, topic string, logger *logrus.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	entry := logger.WithFields(logrus.Fields{"component": "kafka_producer", "topic": topic})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				entry.WithError(err).WithField("messages", len(messages)).Warn("kafka delivery failed")
			}
		},
	}
	return &Producer{writer: writer, logger: entry}, nil
}

func (p *Producer) Publish(ctx context.Context, msg *domain.MbpMessage) error {
	if msg == nil {
		return errors.New("mbp message is nil")
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mbp message: %w", err)
	}
	record := kafka.Message{
		Key:   instrumentKey(msg.Header.InstrumentID),
		Value: value,
	}
	if msg.Header.TsEvent > 0 {
		record.Time = time.Unix(0, msg.Header.TsEvent).UTC()
	}
	return p.writer.WriteMessages(ctx, record)
}

// Close flushes buffered messages.
func (p *Producer) Close(context.Context) error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func instrumentKey(id uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}
