package kafka_infra

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeReader serves msgs in order, then blocks until ctx ends or returns
// endErr when it is set.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	endErr    error
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		msg := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return msg, nil
	}
	endErr := r.endErr
	r.mu.Unlock()

	if endErr != nil {
		return kafka.Message{}, endErr
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(t *testing.T, reader messageReader, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:         reader,
		topic:          "ledger.commands",
		groupID:        "ledger",
		handler:        handler,
		handlerTimeout: time.Second,
		retryBackoff:   time.Millisecond,
		maxBackoff:     5 * time.Millisecond,
		logger:         zaptest.NewLogger(t),
	}
}

func TestConsumer_RetriesFailedMessageBeforeNext(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 0}, {Offset: 1}}}

	var (
		mu      sync.Mutex
		handled []int64
	)
	failures := 3
	handler := func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.Offset)
		if msg.Offset == 0 && failures > 0 {
			failures--
			return errors.New("lock wait timeout")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	consumer := newTestConsumer(t, reader, handler)
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0, 0, 0, 0, 1}, handled)
}

func TestConsumer_StopsWithoutCommitWhenContextEndsDuringRetry(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 0}, {Offset: 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	handler := func(context.Context, kafka.Message) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("account store unavailable")
	}

	consumer := newTestConsumer(t, reader, handler)
	require.NoError(t, consumer.Consume(ctx))

	assert.Empty(t, reader.commits())
	assert.Equal(t, 1, reader.next, "next message must not be fetched")
}

func TestConsumer_StopsOnClosedReader(t *testing.T) {
	reader := &fakeReader{endErr: io.EOF}
	consumer := newTestConsumer(t, reader, func(context.Context, kafka.Message) error { return nil })

	done := make(chan error, 1)
	go func() { done <- consumer.Consume(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer kept polling a closed reader")
	}
}
