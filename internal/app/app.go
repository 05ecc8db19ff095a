// Package app wires configuration into stores, engines and sinks for the ledger binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/events"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/locking"
	"github.com/example/bank-ledger/pkg/audit"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// OpenStore opens the configured store. Postgres connections are retried with exponential backoff
// so the service survives starting before its database.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		store, err := ledger.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		var lastErr error
		delay := connectBackoff
		for attempt := 1; attempt <= connectAttempts; attempt++ {
			store, err := ledger.OpenPostgres(ctx, cfg.Database.URL, ledger.WithLockTimeout(cfg.Ledger.LockTimeout))
			if err == nil {
				return store, nil
			}
			lastErr = err
			if attempt == connectAttempts {
				break
			}
			logger.Warn("database not ready", zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", connectAttempts, lastErr)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
}

// RetryPolicy turns the ledger settings into the unit of work retry policy.
func RetryPolicy(cfg config.LedgerConfig) locking.Policy {
	p := locking.DefaultPolicy()
	p.MaxAttempts = cfg.RetryAttempts
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	return p
}

// LockRegistry builds the keyed lock registry shared by the engine and the validator. Lock
// waits are bounded by the configured lock timeout and reported to m.
func LockRegistry(cfg config.LedgerConfig, m *ledger.Metrics) *locking.Registry {
	return locking.NewRegistry(
		locking.WithTimeout(cfg.LockTimeout),
		locking.WithWaitObserver(m.ObserveLockWait),
	)
}

// Prepare migrates the schema and seeds the chart of accounts when auto-migrate is on.
func Prepare(ctx context.Context, cfg *config.Config, store ledger.Store, engine *ledger.Engine, logger *zap.Logger) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	n, err := engine.SeedChartOfAccounts(ctx)
	if err != nil {
		return fmt.Errorf("seed chart of accounts: %w", err)
	}
	logger.Info("database ready", zap.String("driver", cfg.Database.Driver), zap.Int("chart_accounts_seeded", n))
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenAuditChain returns the posting audit chain. With a file it resumes from the last persisted
// entry after checking the file's chain, and appends to it.
func OpenAuditChain(path string) (*audit.ChainLogger, io.Closer, error) {
	if path == "" {
		return audit.NewChainLogger(), nopCloser{}, nil
	}

	var last *audit.LogEntry
	if f, err := os.Open(path); err == nil {
		entries, err := audit.ReadChain(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, err
		}
		if i := audit.FirstBreak(entries); i >= 0 {
			return nil, nil, fmt.Errorf("audit log %s is broken at entry %d", path, i+1)
		}
		if len(entries) > 0 {
			last = entries[len(entries)-1]
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return audit.NewChainLogger(audit.WithWriter(f), audit.Resume(last)), f, nil
}

// Publisher builds the configured event sink, or nil when events are off. The closer flushes it.
func Publisher(cfg config.EventsConfig, rdb redis.UniversalClient, logger *zap.Logger) (ledger.PostingObserver, io.Closer, error) {
	switch cfg.Sink {
	case "", "none":
		return nil, nopCloser{}, nil
	case "kafka":
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		return p, p, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("redis event sink needs REDIS_ADDR")
		}
		return events.NewRedisPublisher(rdb, cfg.RedisChannel, logger), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown EVENTS_SINK %q", cfg.Sink)
	}
}
