package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	runQueue []Runnable
}

func (s *fakeScheduler) Schedule(t Runnable) { s.runQueue = append(s.runQueue, t) }

func (s *fakeScheduler) drainOne() {
	if len(s.runQueue) == 0 {
		return
	}
	r := s.runQueue[0]
	s.runQueue = s.runQueue[1:]
	r.Run()
}

// manualFuture completes on the Nth call to Poll, letting tests drive
// the Idle/Running/Notified transitions by hand.
type manualFuture struct {
	readyAfter int
	polls      int
	wake       func()
}

func (f *manualFuture) Poll(wake func()) (int, bool) {
	f.wake = wake
	f.polls++
	if f.polls >= f.readyAfter {
		return 42, true
	}
	return 0, false
}

func TestTaskRunsToCompletion(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 1}
	tk := New[int](1, fut, sched)

	tk.Run()

	assert.True(t, tk.IsComplete())
	out, ok := tk.tryReadOutput()
	require.True(t, ok)
	assert.Equal(t, 42, out)
}

func TestTaskReSchedulesOnWakeWhileIdle(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 2}
	tk := New[int](1, fut, sched)

	tk.Run() // not ready yet, goes idle
	assert.False(t, tk.IsComplete())
	assert.Empty(t, sched.runQueue)

	fut.wake() // notify while idle -> fresh wake -> submit
	require.Len(t, sched.runQueue, 1)

	sched.drainOne()
	assert.True(t, tk.IsComplete())
}

func TestJoinHandleTryJoinBeforeComplete(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 1}
	tk := New[int](1, fut, sched)
	jh := NewJoinHandle(tk)

	_, ok := jh.TryJoin()
	assert.False(t, ok)

	tk.Run()
	out, ok := jh.TryJoin()
	require.True(t, ok)
	assert.Equal(t, 42, out)
}

func TestJoinHandleJoinBlocksThenWakes(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 2}
	tk := New[int](1, fut, sched)
	jh := NewJoinHandle(tk)

	tk.Run() // parked, idle

	done := make(chan struct{})
	var out int
	go func() {
		var err error
		out, err = jh.Join(context.Background())
		assert.NoError(t, err)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	fut.wake()
	sched.drainOne()

	select {
	case <-done:
		assert.Equal(t, 42, out)
	case <-time.After(time.Second):
		t.Fatal("join never completed")
	}
}

func TestJoinHandleJoinRespectsContextCancellation(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 100}
	tk := New[int](1, fut, sched)
	jh := NewJoinHandle(tk)
	tk.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := jh.Join(ctx)
	assert.Error(t, err)
}

func TestDropJoinHandleFastPath(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 1}
	tk := New[int](1, fut, sched)
	jh := NewJoinHandle(tk)

	jh.Drop() // dropped immediately after spawn, before any Run

	tk.Run()
	assert.True(t, tk.IsComplete())
}

func TestRefCounting(t *testing.T) {
	sched := &fakeScheduler{}
	fut := &manualFuture{readyAfter: 1}
	tk := New[int](1, fut, sched)

	// A fresh task starts with two references (Task side + JoinHandle
	// side), matching monoio's INITIAL_STATE.
	assert.False(t, tk.RefDec())
	assert.True(t, tk.RefDec())
}
