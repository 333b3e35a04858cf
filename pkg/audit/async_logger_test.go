package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idpgate/pkg/async"
)

type blockingLogger struct {
	mu      sync.Mutex
	events  []*AuditEvent
	release chan struct{}
	err     error
	closed  bool
}

func (b *blockingLogger) Log(ctx context.Context, event *AuditEvent) error {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *blockingLogger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestAsyncLogger_DrainsOnClose(t *testing.T) {
	sink := &blockingLogger{}
	l := NewAsyncLogger(sink, DefaultAsyncConfig(), logrus.New())

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(context.Background(), &AuditEvent{EventType: EventTypeLogin}))
	}
	require.NoError(t, l.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.events, 5)
	assert.True(t, sink.closed)
}

func TestAsyncLogger_QueueFull(t *testing.T) {
	sink := &blockingLogger{release: make(chan struct{})}
	l := NewAsyncLogger(sink, AsyncConfig{Workers: 1, QueueSize: 1, ShutdownTimeout: time.Second}, logrus.New())

	require.NoError(t, l.Log(context.Background(), &AuditEvent{EventType: EventTypeLogin}))
	// the worker may or may not have taken the first event yet
	var full error
	for i := 0; i < 3 && full == nil; i++ {
		full = l.Log(context.Background(), &AuditEvent{EventType: EventTypeLogin})
	}
	assert.ErrorIs(t, full, async.ErrQueueFull)

	close(sink.release)
	require.NoError(t, l.Close())
}

func TestAsyncLogger_ReportsWriteErrors(t *testing.T) {
	boom := errors.New("insert failed")
	sink := &blockingLogger{err: boom}

	var mu sync.Mutex
	var reported []error
	cfg := DefaultAsyncConfig()
	cfg.OnError = func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}
	l := NewAsyncLogger(sink, cfg, logrus.New())

	require.NoError(t, l.Log(context.Background(), &AuditEvent{EventType: EventTypeRegister}))
	require.NoError(t, l.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], boom)
}
