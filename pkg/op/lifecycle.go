// Package op implements the operation lifecycle shared by both driver
// backends: a slab-indexed cell that tracks an in-flight syscall from
// submission through completion, decoupled from whichever goroutine
// happens to be polling it when the kernel result arrives.
package op

import "sync"

// lifecycleState tags which branch of the Lifecycle state machine a cell
// currently occupies.
type lifecycleState int

const (
	stateSubmitted lifecycleState = iota
	stateWaiting
	stateIgnored
	stateCompleted
)

// CompletionMeta carries a completed operation's raw result back to the
// poller: either a MaybeFd wrapping the syscall return value, or an
// error if the syscall failed.
type CompletionMeta struct {
	Result MaybeFd
	Err    error
	Flags  uint32
}

// Lifecycle is the per-operation state cell living inside the driver's
// slab. Submitted -> {Waiting, Completed, Ignored}; Waiting ->
// {Completed, Ignored}; Ignored is a tombstone removed by the completing
// side; Completed is a tombstone removed by the polling side.
type Lifecycle struct {
	mu    sync.Mutex
	isFd  bool
	state lifecycleState
	wake  func()
	meta  CompletionMeta
	// ignoredData keeps the Op's per-op data (e.g. the buffer) alive
	// while the kernel still owns it after the caller stopped polling.
	ignoredData any
}

// NewLifecycle creates a Submitted cell for an operation whose result is
// (or isn't) a file descriptor.
func NewLifecycle(isFd bool) *Lifecycle {
	return &Lifecycle{isFd: isFd, state: stateSubmitted}
}

// Complete transitions the cell on kernel completion. The caller (driver
// park loop) must supply the raw, non-negative result or the mapped
// error, and the completion flags from the CQE. The returned reclaim
// flag is true exactly when the cell was Ignored: the caller dropped
// interest before this completion landed, so there is no poller left to
// reclaim the slab slot, and any fd the result carries has nobody left
// to hand it to. The driver must remove the slab slot itself when
// reclaim is true.
func (l *Lifecycle) Complete(result uint32, err error, flags uint32) (reclaim bool) {
	l.mu.Lock()
	switch l.state {
	case stateSubmitted:
		l.meta = CompletionMeta{Result: newMaybeFd(result, l.isFd, err == nil), Err: err, Flags: flags}
		l.state = stateCompleted
		l.mu.Unlock()
		return false
	case stateWaiting:
		w := l.wake
		l.wake = nil
		l.meta = CompletionMeta{Result: newMaybeFd(result, l.isFd, err == nil), Err: err, Flags: flags}
		l.state = stateCompleted
		l.mu.Unlock()
		if w != nil {
			w()
		}
		return false
	case stateIgnored:
		l.ignoredData = nil
		l.mu.Unlock()
		mf := newMaybeFd(result, l.isFd, err == nil)
		mf.Close()
		return true
	default:
		l.mu.Unlock()
		panic("op: complete called on an already-completed lifecycle")
	}
}

// PollOp is the Submitted/Waiting -> Pending, Completed -> Ready(meta)
// transition driving Op's Future implementation.
func (l *Lifecycle) PollOp(wake func()) (CompletionMeta, bool) {
	l.mu.Lock()
	switch l.state {
	case stateSubmitted, stateWaiting:
		l.wake = wake
		l.state = stateWaiting
		l.mu.Unlock()
		return CompletionMeta{}, false
	case stateCompleted:
		meta := l.meta
		l.mu.Unlock()
		return meta, true
	default:
		l.mu.Unlock()
		panic("op: poll_op called on an ignored lifecycle")
	}
}

// Drop implements the caller-abandons-interest transition. It returns
// true if the operation had already completed (so the driver's slab
// slot can be reclaimed immediately) or false if the cell must remain
// Ignored until the kernel result lands. A completed result that was
// never polled has its descriptor, if any, closed here.
func (l *Lifecycle) Drop(data any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case stateSubmitted, stateWaiting:
		l.ignoredData = data
		l.state = stateIgnored
		return false
	case stateCompleted:
		l.meta.Result.Close()
		return true
	default:
		panic("op: drop_op called on an already-ignored lifecycle")
	}
}
