package task

import "sync"

// Future is the pollable unit a Task drives. It mirrors this runtime's
// other poll-based contracts (op.Op, driver.Driver): Poll returns
// (output, true) once ready, or (zero, false) after registering wake to
// be called when the future should be polled again.
type Future[R any] interface {
	Poll(wake func()) (R, bool)
}

// Schedule is implemented by whatever run queue owns a task: when a
// task is woken while idle, Schedule is asked to make it runnable
// again.
type Schedule interface {
	Schedule(t Runnable)
}

// Runnable is the type-erased handle a scheduler holds for a task it
// doesn't otherwise know the output type of.
type Runnable interface {
	Run()
}

type stageKind int

const (
	stageRunning stageKind = iota
	stageFinished
	stageConsumed
)

// Task is the reference-counted cell backing one spawned future. Its
// fields follow the order of monoio's Cell (header: state + owner thread
// id; core: the future/output slot; trailer: the join waker) but live in
// one flat struct with no padding between the groups.
type Task[R any] struct {
	mu sync.Mutex

	st      state
	ownerID int64

	scheduler Schedule
	future    Future[R]
	output    R
	stage     stageKind

	joinWaker func()
}

// New allocates a task bound to ownerID (the OS thread id of the
// goroutine that must drive it -- tasks never migrate between
// threads), wired to scheduler for re-queueing on wake.
func New[R any](ownerID int64, future Future[R], scheduler Schedule) *Task[R] {
	return &Task[R]{
		st:        newState(),
		ownerID:   ownerID,
		scheduler: scheduler,
		future:    future,
		stage:     stageRunning,
	}
}

// OwnerID reports which thread this task must be driven from.
func (t *Task[R]) OwnerID() int64 { return t.ownerID }

// RefInc increments the task's manual reference count. Called once per
// outstanding Task handle or JoinHandle.
func (t *Task[R]) RefInc() {
	t.mu.Lock()
	t.st.refInc()
	t.mu.Unlock()
}

// RefDec decrements the reference count and reports whether this was
// the last reference, meaning the caller must drop its future/output.
func (t *Task[R]) RefDec() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.refDec()
}

// Run drives the task's future exactly once if it's runnable, handling
// the Idle->Running->{Idle,Complete} transition and re-submitting
// itself to the scheduler if it was notified again mid-poll.
func (t *Task[R]) Run() {
	t.mu.Lock()
	t.st.transitionToRunning()
	future := t.future
	t.mu.Unlock()

	if future == nil {
		return
	}

	output, ready := future.Poll(t.wake)

	t.mu.Lock()
	if ready {
		t.output = output
		t.stage = stageFinished
		t.future = nil
		t.st.transitionToComplete()
		waker := t.joinWaker
		t.mu.Unlock()
		if waker != nil {
			waker()
		}
		return
	}

	action := t.st.transitionToIdle()
	t.mu.Unlock()
	if action == idleOkNotified {
		t.submit()
	}
}

// wake is passed to the future as its wake callback; it implements the
// transition_to_notified decision and only re-submits the task to the
// scheduler when this is a genuinely fresh wake.
func (t *Task[R]) wake() {
	t.mu.Lock()
	action := t.st.transitionToNotified()
	t.mu.Unlock()
	if action == notifySubmit {
		t.submit()
	}
}

func (t *Task[R]) submit() {
	if t.scheduler != nil {
		t.scheduler.Schedule(t)
	}
}

// tryReadOutput consumes the task's output if it has finished, for use
// by JoinHandle. Panics if called twice, matching the Rust original's
// "JoinHandle polled after completion".
func (t *Task[R]) tryReadOutput() (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != stageFinished {
		var zero R
		return zero, false
	}
	out := t.output
	var zero R
	t.output = zero
	t.stage = stageConsumed
	return out, true
}

// setJoinWaker registers waker to be invoked when the task completes,
// returning false if the task already finished (in which case the
// caller should read the output directly instead).
func (t *Task[R]) setJoinWaker(waker func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.st.setJoinWaker() {
		return false
	}
	t.joinWaker = waker
	return true
}

func (t *Task[R]) clearJoinWaker() {
	t.mu.Lock()
	t.st.unsetJoinWaker()
	t.joinWaker = nil
	t.mu.Unlock()
}

// dropJoinHandle releases the JoinHandle's interest in the task's
// output, for a JoinHandle that is being dropped without ever being
// awaited.
func (t *Task[R]) dropJoinHandle() {
	t.mu.Lock()
	if t.st.dropJoinHandleFast() {
		t.mu.Unlock()
		return
	}
	still := t.st.unsetJoinInterested()
	finished := t.stage == stageFinished
	t.mu.Unlock()
	if still && finished {
		// The task completed between our fast-path check and taking the
		// lock; its output is simply discarded since nothing will ever
		// read it.
		t.mu.Lock()
		var zero R
		t.output = zero
		t.stage = stageConsumed
		t.mu.Unlock()
	}
}

// IsComplete reports whether the task's future has finished running.
func (t *Task[R]) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.isComplete()
}
