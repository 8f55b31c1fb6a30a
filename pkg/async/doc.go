// Package async runs work off the request path with panic recovery and
// per-task timeouts.
//
// SafeGo fires a single best-effort task:
//
//	async.SafeGo(context.WithoutCancel(ctx), logger, 2*time.Second, "api key last used",
//		func(ctx context.Context) error { return keys.TouchLastUsed(ctx, id, now) })
//
// WorkerPool bounds concurrency for a stream of tasks, such as audit writes:
//
//	pool := async.NewWorkerPool(ctx, 4, 256, "audit", 5*time.Second, logger)
//	defer pool.Shutdown(10 * time.Second)
//	_ = pool.TrySubmit(func(ctx context.Context) error { return sink.Log(ctx, event) })
package async
