package task

import (
	"context"

	corerun "github.com/corefd/corerun"
)

// JoinHandle lets the spawner of a task observe its completion and
// retrieve its output, independent of however many times the task
// itself has already been polled by the scheduler.
type JoinHandle[R any] struct {
	task *Task[R]
}

// NewJoinHandle wraps t, taking out the reference count contribution
// this handle holds. The caller must have already arranged for the
// task's own Task-side reference.
func NewJoinHandle[R any](t *Task[R]) JoinHandle[R] {
	return JoinHandle[R]{task: t}
}

// TryJoin returns the task's output immediately if it has already
// finished, without blocking.
func (h JoinHandle[R]) TryJoin() (R, bool) {
	return h.task.tryReadOutput()
}

// Join blocks (in the async sense: parking on ctx and an internal wake)
// until the task completes, returning its output, or returns an error
// if ctx is cancelled first.
func (h JoinHandle[R]) Join(ctx context.Context) (R, error) {
	if out, ok := h.task.tryReadOutput(); ok {
		return out, nil
	}

	ready := make(chan struct{}, 1)
	registered := h.task.setJoinWaker(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	if !registered {
		// The task raced us to completion between the fast check above
		// and registering the waker.
		if out, ok := h.task.tryReadOutput(); ok {
			return out, nil
		}
		var zero R
		return zero, corerun.New("task.Join", corerun.ErrCodeOS, "task state inconsistent")
	}

	select {
	case <-ready:
		out, ok := h.task.tryReadOutput()
		if !ok {
			var zero R
			return zero, corerun.New("task.Join", corerun.ErrCodeOS, "woken without output")
		}
		return out, nil
	case <-ctx.Done():
		h.task.clearJoinWaker()
		var zero R
		return zero, corerun.Wrap("task.Join", ctx.Err())
	}
}

// Drop releases this handle's interest in the task's output without
// ever reading it, matching dropping a JoinHandle in the original.
func (h JoinHandle[R]) Drop() {
	h.task.dropJoinHandle()
}

// Poll implements Future[R] for a JoinHandle itself, letting a spawned
// task's result be awaited the same way any other future is -- driven
// by the owning runtime's own poll loop rather than by blocking a
// goroutine. This is the form `BlockOn` and nested spawns should use;
// Join is for the cross-thread case where no local poll loop is
// driving this handle at all.
func (h JoinHandle[R]) Poll(wake func()) (R, bool) {
	if out, ok := h.task.tryReadOutput(); ok {
		return out, true
	}
	h.task.setJoinWaker(wake)
	return *new(R), false
}
