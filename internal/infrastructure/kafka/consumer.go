package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultRetryBackoff = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
)

// MessageHandler processes one message. A nil result commits the offset; an
// error makes the consumer retry the same message before fetching the next.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader         messageReader
	topic          string
	groupID        string
	handler        MessageHandler
	handlerTimeout time.Duration
	retryBackoff   time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
}

func NewConsumer(brokerURLs []string, topic, groupID string, handler MessageHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                brokerURLs,
		GroupID:                groupID,
		Topic:                  topic,
		MinBytes:               1,
		MaxBytes:               10e6,
		ReadBatchTimeout:       1 * time.Second,
		Logger:                 kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
		HeartbeatInterval:      3 * time.Second,
		PartitionWatchInterval: 5 * time.Second,
		MaxAttempts:            3,
	})

	return &Consumer{
		reader:         reader,
		topic:          topic,
		groupID:        groupID,
		handler:        handler,
		handlerTimeout: 25 * time.Second,
		retryBackoff:   defaultRetryBackoff,
		maxBackoff:     defaultMaxBackoff,
		logger:         logger,
	}
}

// Consume fetches and handles messages until ctx is done or the reader is
// closed. A message whose handler fails is retried with backoff and never
// skipped, since committing a later offset would commit past it. Offsets are
// committed one message at a time after the handler succeeds.
func (c *Consumer) Consume(ctx context.Context) error {
	c.logger.Info("Kafka consumer starting", zap.String("topic", c.topic), zap.String("group_id", c.groupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if isStopError(err) {
				c.logger.Info("Kafka consumer stopping", zap.String("topic", c.topic), zap.Error(err))
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.String("topic", c.topic), zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if !c.handleUntilDone(ctx, msg) {
			c.logger.Info("Kafka consumer stopping with message unhandled",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.logger.Error("Failed to commit offset for Kafka message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		cancelCommit()
	}
}

// handleUntilDone runs the handler on msg until it succeeds. It returns false
// if ctx ends first.
func (c *Consumer) handleUntilDone(ctx context.Context, msg kafka.Message) bool {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		handleCtx, cancelHandle := context.WithTimeout(ctx, c.handlerTimeout)
		err := c.handler(handleCtx, msg)
		cancelHandle()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		c.logger.Warn("Error handling Kafka message, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func isStopError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, kafka.ErrGroupClosed) ||
		errors.Is(err, io.EOF)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka consumer reader", zap.Error(err))
		return fmt.Errorf("failed to close Kafka consumer reader: %w", err)
	}
	c.logger.Info("Kafka consumer reader closed.")
	return nil
}
