package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/idpgate/pkg/async"
)

// AsyncConfig sizes an AsyncLogger
type AsyncConfig struct {
	Workers         int
	QueueSize       int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// OnError is called when a queued event fails to write
	OnError func(error)
}

// DefaultAsyncConfig returns the settings used for the database sink
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Workers:         2,
		QueueSize:       1024,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// AsyncLogger moves writes to a slow sink off the request path. Log only
// fails when the queue is full; write failures go to OnError.
type AsyncLogger struct {
	next            Logger
	pool            *async.WorkerPool
	shutdownTimeout time.Duration
}

// NewAsyncLogger wraps next with a worker pool
func NewAsyncLogger(next Logger, cfg AsyncConfig, logger logrus.FieldLogger) *AsyncLogger {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultAsyncConfig().ShutdownTimeout
	}
	pool := async.NewWorkerPool(context.Background(), async.PoolConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		TaskName:  "audit",
		Timeout:   cfg.WriteTimeout,
		OnError:   cfg.OnError,
	}, logger)

	return &AsyncLogger{next: next, pool: pool, shutdownTimeout: cfg.ShutdownTimeout}
}

// Log queues event. The request context is not carried over since the
// write outlives the request.
func (l *AsyncLogger) Log(_ context.Context, event *AuditEvent) error {
	return l.pool.Submit(func(ctx context.Context) error {
		return l.next.Log(ctx, event)
	})
}

// Close drains queued events, then closes the wrapped logger
func (l *AsyncLogger) Close() error {
	return errors.Join(l.pool.Shutdown(l.shutdownTimeout), l.next.Close())
}
