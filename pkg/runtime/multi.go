package runtime

import (
	"context"
	goruntime "runtime"

	"golang.org/x/sync/errgroup"
)

// RunWorkers starts n Runtimes, each pinned to its own OS thread via
// runtime.LockOSThread, and runs fn
// on each concurrently. It blocks until every worker's fn has returned,
// propagating the first non-nil error the way errgroup.Group always
// does and cancelling ctx for the rest once one fails.
//
// fn receives the group's shared context (cancelled once any worker
// returns an error) and the worker's own Runtime, already
// Build-registered in the cross-thread registry under its OS thread id
// (available from within fn via CurrentThreadID) before fn is invoked,
// so one worker can learn another's id (over a channel fn sets up
// itself) and UnparkThread it.
func RunWorkers(ctx context.Context, n int, builder func() *Builder, fn func(ctx context.Context, r *Runtime) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		b := builder
		g.Go(func() error {
			goruntime.LockOSThread()
			defer goruntime.UnlockOSThread()

			r, err := b().Build()
			if err != nil {
				return err
			}
			defer r.Close()

			return fn(gctx, r)
		})
	}
	return g.Wait()
}

// CurrentThreadID exposes the registry key a worker runtime is
// addressable under, for fn to hand to a peer before blocking, e.g. over
// a channel a sibling worker reads to learn where to UnparkThread it.
func CurrentThreadID() int64 { return currentThreadID() }
