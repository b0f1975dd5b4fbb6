// Package worker provides a bounded, generic job pool.
//
// The node uses a single-worker pool to move work off transport goroutines:
// capability requests and input property changes arrive on NATS and
// WebSocket callbacks, but must be executed by the compositor driver, which
// may be busy with a cycle. Submitting to the pool never blocks; a full queue
// drops the job with a transient ErrQueueFull.
//
//	pool, err := worker.NewPool("control", func(ctx context.Context, j job) error {
//	    return j.run(ctx)
//	}, registry, worker.WithQueueSize[job](64))
//	_ = pool.Start(ctx)
//	_ = pool.Submit(j)
//	_ = pool.Stop(5 * time.Second)
//
// With one worker, jobs run in submission order. Stop closes the queue and
// waits for the jobs already queued.
package worker
