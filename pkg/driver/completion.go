package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/internal/logging"
	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
	"github.com/corefd/corerun/pkg/slab"
)

// ring is the subset of *giouring.Ring the completion driver depends on,
// narrowed to an interface so the park loop's bookkeeping (reserved
// user-data handling, submission-queue-full retry, the eventfd/awake
// double-drain) can be exercised without a real kernel ring.
type ring interface {
	GetSQE() *giouring.SubmissionQueueEntry
	SubmitAndWait(waitNr uint32) (uint, error)
	Submit() (uint, error)
	PeekCQE() (*giouring.CompletionQueueEvent, error)
	CQESeen(cqe *giouring.CompletionQueueEvent)
	QueueExit()
	Fd() int
}

// CompletionDriver drives the runtime's I/O using io_uring: operations
// are described once as submission queue entries and the kernel reports
// their result asynchronously on the completion queue, so Park is the
// only place a thread actually blocks.
type CompletionDriver struct {
	mu   sync.Mutex
	ring ring
	ops  slab.Slab[*op.Lifecycle]

	eventfd          int
	eventfdInstalled bool
	eventfdReadBuf   [8]byte

	sharedWaker *eventWaker
	wakerCh     chan func()
}

// NewCompletionDriver creates an io_uring-backed driver with the given
// completion queue depth, installing a cross-thread wake eventfd.
func NewCompletionDriver(entries uint32) (*CompletionDriver, error) {
	if entries == 0 {
		entries = defaultEntries
	}

	r, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		r.QueueExit()
		return nil, err
	}

	d := &CompletionDriver{
		ring:        r,
		eventfd:     fd,
		sharedWaker: newEventWaker(fd),
		wakerCh:     make(chan func(), 256),
	}
	return d, nil
}

// Submit enqueues o as a new operation: a slab slot is reserved, the
// concrete OpAble builds its submission queue entry, and the entry is
// pushed (flushing to the kernel first if the ring has no room).
func (d *CompletionDriver) Submit(o op.OpAble) (*op.Op[op.OpAble], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	index := d.ops.Insert(op.NewLifecycle(o.RetIsFD()))

	sqe := d.ring.GetSQE()
	if sqe == nil {
		if _, err := d.ring.Submit(); err != nil {
			return nil, err
		}
		sqe = d.ring.GetSQE()
		if sqe == nil {
			return nil, errSubmissionQueueFull(index)
		}
	}

	prepareSQE(sqe, o)
	sqe.UserData = uint64(index)

	return op.NewOp[op.OpAble](d, index, o), nil
}

// PollOp implements op.DriverHandle for the completion driver: it looks
// up the slab-indexed lifecycle cell and forwards straight to its own
// Submitted/Waiting/Completed transition. Completed is a tombstone
// removed by the polling side, so once the cell reports ready this call
// reclaims its slab slot before returning.
func (d *CompletionDriver) PollOp(index int, data op.OpAble, wake func()) (op.CompletionMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lc, ok := d.ops.Get(index)
	if !ok {
		return op.CompletionMeta{}, true
	}
	meta, ready := (*lc).PollOp(wake)
	if ready {
		d.ops.Remove(index)
		logging.Default().Debug("completion driver reclaimed slab slot", "index", index, "path", "poll")
	}
	return meta, ready
}

// DropOp implements op.DriverHandle: if the operation hasn't completed
// yet, the lifecycle moves to Ignored and (unless skipCancel) an
// ASYNC_CANCEL SQE addressing the same user-data is queued.
func (d *CompletionDriver) DropOp(index int, data op.OpAble, skipCancel bool) {
	if index < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	lc, ok := d.ops.Get(index)
	if !ok {
		return
	}
	finished := (*lc).Drop(data)
	if finished {
		d.ops.Remove(index)
		return
	}
	if skipCancel {
		return
	}

	sqe := d.ring.GetSQE()
	if sqe == nil {
		_, _ = d.ring.Submit()
		sqe = d.ring.GetSQE()
	}
	if sqe != nil {
		sqe.OpCode = giouring.OpAsyncCancel
		sqe.UserData = cancelUserData
		sqe.Addr = uint64(index)
	}
}

// SubmitClose implements sharedfd.CloseSubmitter: it pushes a Close
// operation for fd and returns a waiter bridging back to Op.Poll. The
// return type is sharedfd.CloseWaiter itself (rather than the concrete
// CloseWaiterOp) so this method satisfies that interface directly.
func (d *CompletionDriver) SubmitClose(fd int) (sharedfd.CloseWaiter, error) {
	o, err := d.Submit(closeOp{fd: fd})
	if err != nil {
		return nil, err
	}
	return CloseWaiterOp{o: o}, nil
}

// Park blocks the calling OS thread until a completion arrives, timeout
// elapses, or a foreign goroutine unparks it. It mirrors monoio's
// inner_park: foreign wakers are drained first (skipping the wait
// entirely if any fired), the shared "awake" flag is cleared only when
// actually about to sleep, and the eventfd plus an optional timeout SQE
// are installed right before the blocking submit_and_wait.
func (d *CompletionDriver) Park(timeout *time.Duration) error {
	needWait := true

	for {
		select {
		case w := <-d.wakerCh:
			w()
			needWait = false
		default:
			goto drained
		}
	}
drained:

	if needWait {
		d.sharedWaker.setAwake(false)
		for {
			select {
			case w := <-d.wakerCh:
				w()
				needWait = false
			default:
				goto drainedAgain
			}
		}
	}
drainedAgain:

	d.mu.Lock()
	if needWait {
		space := 0
		if !d.eventfdInstalled {
			space++
		}
		if timeout != nil {
			space++
		}
		if space > 0 {
			if _, err := d.ring.Submit(); err != nil {
				d.mu.Unlock()
				return err
			}
		}
		if !d.eventfdInstalled {
			d.installEventfd()
		}
		if timeout != nil {
			d.installTimeout(*timeout)
		}
		_, err := d.ring.SubmitAndWait(1)
		if err != nil {
			d.mu.Unlock()
			return err
		}
	} else {
		if _, err := d.ring.Submit(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.sharedWaker.setAwake(true)
	d.tick()
	d.mu.Unlock()
	logging.Default().Debug("completion driver park cycle complete", "needWait", needWait)
	return nil
}

func (d *CompletionDriver) installEventfd() {
	sqe := d.ring.GetSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareRead(int32(d.eventfd), d.eventfdReadBuf[:], 0, 0)
	sqe.UserData = eventfdUserData
	d.eventfdInstalled = true
}

func (d *CompletionDriver) installTimeout(dur time.Duration) {
	sqe := d.ring.GetSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareTimeout(&giouring.Timespec{Sec: int64(dur / time.Second), Nsec: int64(dur % time.Second)}, 0, 0)
	sqe.UserData = timeoutUserData
}

// tick drains the completion queue, dispatching each CQE either to the
// housekeeping path (reserved user-data) or to the slab-indexed
// lifecycle it belongs to. Complete reports reclaim=true exactly when
// the lifecycle was Ignored, meaning the caller already dropped
// interest and there is no PollOp call left to reclaim the slot, so
// tick removes it here instead.
func (d *CompletionDriver) tick() {
	for {
		cqe, err := d.ring.PeekCQE()
		if err != nil || cqe == nil {
			return
		}

		if cqe.UserData >= minReservedUserData {
			if cqe.UserData == eventfdUserData {
				d.eventfdInstalled = false
			}
			d.ring.CQESeen(cqe)
			continue
		}

		index := int(cqe.UserData)
		if lc, ok := d.ops.Get(index); ok {
			res, errno := resultify(cqe.Res)
			if (*lc).Complete(res, errno, cqe.Flags) {
				d.ops.Remove(index)
				logging.Default().Debug("completion driver reclaimed slab slot", "index", index, "path", "ignored")
			}
		}
		d.ring.CQESeen(cqe)
	}
}

// Unpark returns a thread-safe handle any goroutine can use to wake this
// driver's Park loop via the eventfd.
func (d *CompletionDriver) Unpark() Unpark {
	return unparkHandle{waker: d.sharedWaker}
}

// Close tears down the ring and the eventfd.
func (d *CompletionDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring.QueueExit()
	return unix.Close(d.eventfd)
}

func resultify(res int32) (uint32, error) {
	if res >= 0 {
		return uint32(res), nil
	}
	return 0, unix.Errno(-res)
}

func prepareSQE(sqe *giouring.SubmissionQueueEntry, o op.OpAble) {
	if p, ok := o.(interface {
		PrepareSQE(*giouring.SubmissionQueueEntry)
	}); ok {
		p.PrepareSQE(sqe)
		return
	}
	sqe.OpCode = giouring.OpNop
}

// closeOp is the completion driver's own Close operation, used by
// SubmitClose; it needs nothing but the fd since close(2) has no
// result payload worth keeping.
type closeOp struct {
	fd int
}

func (c closeOp) RetIsFD() bool  { return false }
func (closeOp) SkipCancel() bool { return true }
func (closeOp) LegacyInterest() (op.Direction, int, bool) {
	return op.DirRead, 0, false
}
func (c closeOp) LegacyCall() (op.MaybeFd, error) {
	return op.NewNonFdResult(0), unix.Close(c.fd)
}
func (c closeOp) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareClose(int32(c.fd))
}

// CloseWaiterOp adapts an *op.Op[op.OpAble] close operation to the
// sharedfd.CloseWaiter contract.
type CloseWaiterOp struct {
	o *op.Op[op.OpAble]
}

func (w CloseWaiterOp) Wait(ctx context.Context) error {
	_, _, err := w.o.Poll(ctx)
	return err
}

func errSubmissionQueueFull(index int) error {
	return &quotaError{index: index}
}

type quotaError struct{ index int }

func (e *quotaError) Error() string { return "driver: submission queue full" }

// eventWaker mirrors monoio's EventWaker: an atomic "awake" flag that
// lets Unpark skip the eventfd write entirely when the driver hasn't
// gone to sleep yet, avoiding a syscall on the common case where the
// target thread is already running.
type eventWaker struct {
	fd    int
	awake atomic.Bool
}

func newEventWaker(fd int) *eventWaker {
	w := &eventWaker{fd: fd}
	w.awake.Store(true)
	return w
}

func (w *eventWaker) setAwake(v bool) { w.awake.Store(v) }

func (w *eventWaker) wake() error {
	if w.awake.Load() {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.fd, buf[:])
	return err
}

type unparkHandle struct {
	waker *eventWaker
}

func (u unparkHandle) UnparkNow() error {
	return u.waker.wake()
}
