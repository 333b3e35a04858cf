// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a single task with panic recovery and a timeout:
//
//	async.SafeGo(ctx, logger, 5*time.Second, "redis warmup", func(ctx context.Context) error {
//		return client.Ping(ctx).Err()
//	})
//
// WorkerPool runs queued tasks on a fixed set of workers. Submit never
// blocks; a full queue is reported with ErrQueueFull.
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Workers: 4, QueueSize: 256, TaskName: "audit"}, logger)
//	defer pool.Shutdown(5 * time.Second)
//	err := pool.Submit(func(ctx context.Context) error { return sink.Log(ctx, event) })
package async
