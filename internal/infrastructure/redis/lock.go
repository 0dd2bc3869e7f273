package redis_infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultLockKey = "ledger:reconciliation"

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to redis and pings it.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// SweepLock is a single-attempt redsync mutex used to elect the replica
// that runs a reconciliation tick.
type SweepLock struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
	logger *zap.Logger
}

// NewSweepLock builds a lock on key. expiry must outlast a full sweep run.
func NewSweepLock(client redis.UniversalClient, key string, expiry time.Duration, logger *zap.Logger) *SweepLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &SweepLock{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		expiry: expiry,
		logger: logger,
	}
}

func (l *SweepLock) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	mutex := l.rs.NewMutex(l.key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			l.logger.Debug("Lock already held by another process", zap.String("lock_key", l.key))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}

	l.logger.Debug("Lock acquired", zap.String("lock_key", l.key))
	unlock := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
		if !ok {
			return fmt.Errorf("lock %s expired before release", l.key)
		}
		return nil
	}
	return unlock, true, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
