package runtime

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/corefd/corerun/internal/constants"
	"github.com/corefd/corerun/pkg/task"
)

// BlockingPool bounds how many spawn-blocking closures may run
// concurrently across goroutines, playing the role monoio's
// threadpool-backed ThreadPool trait plays: heavy/blocking work is
// offloaded off the runtime's own thread entirely rather than ever
// running inline, so it never stalls the async tasks sharing that
// thread's run queue.
type BlockingPool struct {
	sem *semaphore.Weighted
}

// NewBlockingPool creates a pool that admits at most capacity
// concurrent blocking closures. A non-positive capacity falls back to
// the package default.
func NewBlockingPool(capacity int64) *BlockingPool {
	if capacity <= 0 {
		capacity = int64(constants.DefaultBlockingThreads)
	}
	return &BlockingPool{sem: semaphore.NewWeighted(capacity)}
}

var defaultBlockingPool = NewBlockingPool(int64(constants.DefaultBlockingThreads))

// blockingFuture runs fn on its own goroutine the first time it is
// polled, gated by the pool's semaphore, and reports ready once that
// goroutine has delivered its result.
type blockingFuture[R any] struct {
	pool     *BlockingPool
	fn       func() R
	started  bool
	resultCh chan R
}

func (b *blockingFuture[R]) Poll(wake func()) (R, bool) {
	if !b.started {
		b.started = true
		b.resultCh = make(chan R, 1)
		fn := b.fn
		pool := b.pool
		ch := b.resultCh
		go func() {
			_ = pool.sem.Acquire(context.Background(), 1)
			defer pool.sem.Release(1)
			out := fn()
			ch <- out
			wake()
		}()
		var zero R
		return zero, false
	}

	select {
	case out := <-b.resultCh:
		return out, true
	default:
		var zero R
		return zero, false
	}
}

// SpawnBlocking offloads fn to the default blocking pool, returning a
// JoinHandle for its result. fn must not itself try to drive this
// runtime's async tasks: it runs on a goroutine with no relationship to
// r's own OS thread.
func SpawnBlocking[R any](r *Runtime, fn func() R) task.JoinHandle[R] {
	return SpawnBlockingOn(r, defaultBlockingPool, fn)
}

// SpawnBlockingOn is SpawnBlocking against an explicit pool, for
// callers that want their own concurrency cap instead of sharing the
// package default.
func SpawnBlockingOn[R any](r *Runtime, pool *BlockingPool, fn func() R) task.JoinHandle[R] {
	fut := &blockingFuture[R]{pool: pool, fn: fn}
	return Spawn[R](r, fut)
}
