package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/ledger"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "ledger.journal_posted"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per journal entry, keyed by reference so a consumer sees
// entries for the same reference on one partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger, now: time.Now}
}

// JournalPosted implements ledger.PostingObserver.
func (p *KafkaPublisher) JournalPosted(ctx context.Context, je *ledger.JournalEntry) error {
	payload, err := encode(je, p.now())
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(je.Reference),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventJournalPosted)},
			{Key: "operation_type", Value: []byte(je.OperationType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to kafka: %w", je.Reference, err)
	}
	p.logger.Debug("journal event published",
		zap.String("sink", "kafka"),
		zap.String("reference", je.Reference))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
