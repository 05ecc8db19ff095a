package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/ledger"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "ledger_events"

// RedisPublisher fans journal entries out over redis pub/sub.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, channel: channel, logger: logger, now: time.Now}
}

// JournalPosted implements ledger.PostingObserver.
func (p *RedisPublisher) JournalPosted(ctx context.Context, je *ledger.JournalEntry) error {
	payload, err := encode(je, p.now())
	if err != nil {
		return err
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s to redis: %w", je.Reference, err)
	}
	p.logger.Debug("journal event published",
		zap.String("sink", "redis"),
		zap.String("channel", p.channel),
		zap.String("reference", je.Reference),
		zap.Int64("receivers", receivers))
	return nil
}
