package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneshotFuture resolves to the single value sent on ch, non-blocking
// per the Future contract: each Poll does a try-receive, returning not
// ready if nothing has arrived yet. The sender is expected to call
// UnparkThread after sending so the receiving runtime's Park returns
// promptly instead of waiting out its current timeout.
type oneshotFuture struct{ ch <-chan int }

func (o oneshotFuture) Poll(wake func()) (int, bool) {
	select {
	case v := <-o.ch:
		return v, true
	default:
		return 0, false
	}
}

// pokeUnpark calls UnparkThread repeatedly over window, rather than
// once, because the driver's Unpark skips its wake syscall entirely
// when the target hasn't gone to sleep yet (see eventWaker's "awake"
// flag): a single poke can land in the gap between the target
// observing its future isn't ready yet and the target actually
// arming its own Park call, in which case it would be silently
// dropped. Spreading pokes across a window closes that gap.
func pokeUnpark(id int64, window time.Duration) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		UnparkThread(id)
		time.Sleep(time.Millisecond)
	}
}

// driversAvailable probes whether a driver can be built at all in this
// sandbox, so the cross-thread tests can skip cleanly rather than fail
// when io_uring and epoll are both unavailable.
func driversAvailable(t *testing.T) bool {
	t.Helper()
	r, err := NewBuilder().Build()
	if err != nil {
		return false
	}
	_ = r.Close()
	return true
}

// TestJoinAcrossRuntimeInstances is spec.md §8 scenario 4: runtime A
// sends an integer through a oneshot to runtime B, running on another
// OS thread; B receives it and echoes it back through a second
// oneshot; A must receive the same value. Both runtimes are started
// together via RunWorkers, each pinned to its own OS thread, and use
// UnparkThread to make sure the other side's Park call notices the
// value promptly rather than on some unrelated future wakeup.
func TestJoinAcrossRuntimeInstances(t *testing.T) {
	if !driversAvailable(t) {
		t.Skip("driver unavailable in this sandbox")
	}

	const sent = 24

	roleCh := make(chan struct{}, 1)
	aIDCh := make(chan int64, 1)
	bIDCh := make(chan int64, 1)
	toB := make(chan int, 1)
	toA := make(chan int, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var gotBack int
	err := RunWorkers(ctx, 2, NewBuilder, func(ctx context.Context, r *Runtime) error {
		select {
		case roleCh <- struct{}{}:
			// Runtime A: publish our id, learn B's, send, then block
			// on the echo.
			aIDCh <- r.ID()
			bID := <-bIDCh
			toB <- sent
			pokeUnpark(bID, 200*time.Millisecond)

			v, err := BlockOn[int](ctx, r, oneshotFuture{ch: toA})
			if err != nil {
				return err
			}
			gotBack = v
			return nil
		default:
			// Runtime B: publish our id, learn A's, block waiting for
			// A's value, and echo it straight back.
			bIDCh <- r.ID()
			aID := <-aIDCh

			v, err := BlockOn[int](ctx, r, oneshotFuture{ch: toB})
			if err != nil {
				return err
			}
			toA <- v
			pokeUnpark(aID, 200*time.Millisecond)
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, sent, gotBack)
}

// TestRunWorkersPropagatesFirstError confirms RunWorkers surfaces a
// worker's error while still running every worker's function, matching
// errgroup.Group's own contract.
func TestRunWorkersPropagatesFirstError(t *testing.T) {
	if !driversAvailable(t) {
		t.Skip("driver unavailable in this sandbox")
	}

	var ran atomic.Int32
	err := RunWorkers(context.Background(), 3, NewBuilder, func(ctx context.Context, r *Runtime) error {
		ran.Add(1)
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), ran.Load())
}
