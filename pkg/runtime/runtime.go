// Package runtime assembles the I/O driver, task scheduler, and timing
// wheel into a single thread-per-core executor: one Runtime owns one OS
// thread for its whole lifetime, drives exactly one run queue, and
// never migrates a task to another thread.
package runtime

import (
	"context"
	"time"

	corerun "github.com/corefd/corerun"
	"github.com/corefd/corerun/internal/logging"
	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/task"
	"github.com/corefd/corerun/pkg/timewheel"
)

// runQueue is a plain FIFO of runnable tasks, mirroring monoio's
// TaskQueue: a VecDeque with no further scheduling intelligence,
// because fairness for this runtime comes entirely from the `2x queue
// length` round cap in the scheduler loop, not from queue ordering.
type runQueue struct {
	items []task.Runnable
}

func (q *runQueue) push(t task.Runnable) { q.items = append(q.items, t) }

func (q *runQueue) pop() (task.Runnable, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *runQueue) len() int { return len(q.items) }

// Runtime is a single thread-per-core executor instance. It is not safe
// to share across goroutines: every method except the cross-thread
// wake path is expected to be called only from the goroutine that owns
// it (typically one that RunWorkers has locked via runtime.LockOSThread
// before calling Builder.Build).
type Runtime struct {
	id     int64
	driver driver.Driver
	tasks  runQueue
	wheel  *timewheel.Wheel
	epoch  time.Time
}

// Schedule implements task.Schedule by appending to the local run
// queue. A task is only ever scheduled on the Runtime that owns it,
// since task.Task.wake is only reachable from the goroutine driving
// that task's future.
func (r *Runtime) Schedule(t task.Runnable) {
	r.tasks.push(t)
}

// ID reports this runtime's registered thread id, used as the
// cross-thread join/wake address.
func (r *Runtime) ID() int64 { return r.id }

// Driver returns the I/O driver backing this runtime, for packages that
// submit concrete operations against it (e.g. pkg/netop's TCP wrappers).
func (r *Runtime) Driver() driver.Driver { return r.driver }

// now reports the current tick (milliseconds since this runtime was
// built), feeding both timer insertion and the wheel's Poll driver.
func (r *Runtime) now() uint64 {
	return uint64(time.Since(r.epoch).Milliseconds())
}

// Sleep returns a task.Future that completes once dur has elapsed on
// this runtime's timing wheel.
func (r *Runtime) Sleep(dur time.Duration) *SleepFuture {
	deadline := r.now() + uint64(dur.Milliseconds())
	entry := &timewheel.TimerEntry{Deadline: deadline}
	return &SleepFuture{rt: r, entry: entry, fired: deadline <= r.now()}
}

// SleepFuture is the task.Future[struct{}] driving one timer wheel
// entry; it registers itself with the wheel on first poll and is
// removed from the wheel if dropped before firing.
type SleepFuture struct {
	rt      *Runtime
	entry   *timewheel.TimerEntry
	armed   bool
	fired   bool
}

func (s *SleepFuture) Poll(wake func()) (struct{}, bool) {
	if s.fired {
		return struct{}{}, true
	}
	if !s.armed {
		s.entry.Fire = wake
		s.rt.wheel.Insert(s.entry)
		s.armed = true
		return struct{}{}, false
	}
	if s.entry.IsElapsed() {
		s.fired = true
		return struct{}{}, true
	}
	return struct{}{}, false
}

// Drop cancels the underlying wheel entry if the sleep was never
// allowed to complete.
func (s *SleepFuture) Drop() {
	if s.armed && !s.fired {
		s.rt.wheel.Remove(s.entry)
	}
}

// BlockOn drives future to completion on this runtime, processing its
// own run queue and I/O driver the whole time. It mirrors monoio's
// Runtime::block_on loop: drain the run queue up to twice its current
// length per round (so a task that keeps re-scheduling itself cannot
// starve I/O), poll the root future, and only block in Park once there
// is truly nothing left to run locally.
func BlockOn[R any](ctx context.Context, r *Runtime, future task.Future[R]) (R, error) {
	rootDone := make(chan struct{}, 1)
	rootWake := func() {
		select {
		case rootDone <- struct{}{}:
		default:
		}
	}

	for {
		for {
			maxRound := r.tasks.len() * 2
			for maxRound > 0 {
				t, ok := r.tasks.pop()
				if !ok {
					break
				}
				t.Run()
				maxRound--
			}

			select {
			case <-rootDone:
			default:
			}
			if out, ready := future.Poll(rootWake); ready {
				return out, nil
			}

			select {
			case <-ctx.Done():
				var zero R
				return zero, corerun.Wrap("runtime.BlockOn", ctx.Err())
			default:
			}

			if r.tasks.len() == 0 {
				break
			}
		}

		timeout := r.parkTimeout()
		if err := r.driver.Park(timeout); err != nil {
			var zero R
			return zero, corerun.Wrap("runtime.BlockOn", err)
		}
		r.fireExpiredTimers()
	}
}

// parkTimeout resolves how long Park may safely block: the distance to
// the timing wheel's next expiration, or nil (block until I/O or
// unpark) if no timer is pending.
func (r *Runtime) parkTimeout() *time.Duration {
	next, ok := r.wheel.NextExpirationTime()
	if !ok {
		return nil
	}
	now := r.now()
	if next <= now {
		zero := time.Duration(0)
		return &zero
	}
	d := time.Duration(next-now) * time.Millisecond
	return &d
}

func (r *Runtime) fireExpiredTimers() {
	for _, e := range r.wheel.Poll(r.now()) {
		if e.Fire != nil {
			e.Fire()
		}
	}
	logging.Default().Debug("runtime timer sweep complete")
}

// Close releases the underlying driver and removes this runtime from
// the cross-thread wake registry.
func (r *Runtime) Close() error {
	unregister(r.id)
	return r.driver.Close()
}
