// Package task implements an intrusive, reference-counted task cell: a
// spawned future is boxed once, shared between its Task handle and its
// JoinHandle purely through a manual reference count, and driven by a
// small lifecycle state machine packed into a single word.
package task

const (
	running    = 0b0001
	complete   = 0b0010
	lifecycleMask = 0b11
	notified   = 0b100
	joinInterest = 0b1_000
	joinWaker  = 0b10_000

	stateMask    = lifecycleMask | notified | joinInterest | joinWaker
	refCountShift = 5 // popcount of ^stateMask's low bits consumed above
	refOne       = 1 << refCountShift

	// initialState matches monoio's INITIAL_STATE: a task starts with a
	// reference for its Task handle, a reference for its JoinHandle, the
	// join handle present, and already notified (so the scheduler runs
	// it once without a separate initial wake).
	initialState = (refOne * 2) | joinInterest | notified
)

// transitionIdle describes what happened leaving the Running state.
type transitionIdle int

const (
	idleOk transitionIdle = iota
	idleOkNotified
)

// transitionNotified describes what a notify attempt should cause the
// caller to do.
type transitionNotified int

const (
	notifyDoNothing transitionNotified = iota
	notifySubmit
)

// state is the single-word lifecycle + ref-count cell backing a task.
// It is touched only by the owning runtime's goroutine (the scheduler
// loop and, transitively, whatever calls JoinHandle methods from that
// same goroutine), so unlike monoio's UnsafeCell this needs no atomics
// or interior-mutability ceremony -- a plain field already has the
// right aliasing rules in Go.
type state struct {
	bits uint64
}

func newState() state {
	return state{bits: initialState}
}

func (s state) isIdle() bool         { return s.bits&(running|complete) == 0 }
func (s state) isNotified() bool     { return s.bits&notified == notified }
func (s state) isRunning() bool      { return s.bits&running == running }
func (s state) isComplete() bool     { return s.bits&complete == complete }
func (s state) isJoinInterested() bool { return s.bits&joinInterest == joinInterest }
func (s state) hasJoinWaker() bool   { return s.bits&joinWaker == joinWaker }
func (s state) refCount() uint64     { return s.bits >> refCountShift }

// transitionToRunning moves Idle+Notified -> Running, clearing the
// notified flag so a wake during this poll is detected as a fresh one.
func (s *state) transitionToRunning() {
	s.bits |= running
	s.bits &^= notified
}

// transitionToIdle moves Running -> Idle, reporting whether the task
// was notified again while it ran (in which case the scheduler must
// re-queue it immediately).
func (s *state) transitionToIdle() transitionIdle {
	s.bits &^= running
	if s.isNotified() {
		return idleOkNotified
	}
	return idleOk
}

// transitionToComplete moves Running -> Complete via the same XOR
// monoio uses, since Running is always set and Complete is always unset
// at this call site.
func (s *state) transitionToComplete() {
	s.bits ^= running | complete
}

// transitionToNotified implements the "should this wake actually submit
// the task to a run queue" decision: a task that's currently running
// just gets its notified bit set (the running poll will notice and
// re-run itself); a task that's already complete or already notified
// does nothing; otherwise this is a fresh wake and the caller must
// submit it.
func (s *state) transitionToNotified() transitionNotified {
	if s.isRunning() {
		s.bits |= notified
		return notifyDoNothing
	}
	if s.isComplete() || s.isNotified() {
		return notifyDoNothing
	}
	s.bits |= notified
	return notifySubmit
}

// dropJoinHandleFast optimistically handles the common case of a
// JoinHandle dropped immediately after spawn, before the task has had
// any chance to run.
func (s *state) dropJoinHandleFast() bool {
	if s.bits != initialState {
		return false
	}
	s.bits = (initialState - refOne) &^ joinInterest
	return true
}

// unsetJoinInterested clears JOIN_INTEREST unless the task already
// completed, in which case the drop path must instead consume the
// task's output itself.
func (s *state) unsetJoinInterested() bool {
	if s.isComplete() {
		return false
	}
	s.bits &^= joinInterest
	return true
}

// setJoinWaker records that the JoinHandle has parked a waker, failing
// if the task completed first (in which case the caller must poll the
// output immediately instead of waiting to be woken).
func (s *state) setJoinWaker() bool {
	if s.isComplete() {
		return false
	}
	s.bits |= joinWaker
	return true
}

func (s *state) unsetJoinWaker() bool {
	if s.isComplete() {
		return false
	}
	s.bits &^= joinWaker
	return true
}

func (s *state) refInc() { s.bits += refOne }

// refDec decrements the reference count and reports whether it reached
// zero, meaning the caller holds the last reference and must release
// the task cell.
func (s *state) refDec() bool {
	s.bits -= refOne
	return s.refCount() == 0
}
