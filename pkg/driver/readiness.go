package driver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/internal/logging"
	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
	"github.com/corefd/corerun/pkg/slab"
)

const maxEpollEvents = 1024

// readinessEntry tracks one registered fd's observed readiness bitmask
// and the wakers parked on each direction, mirroring monoio's
// ScheduledIo.
type readinessEntry struct {
	mu        sync.Mutex
	readiness uint32
	readWake  func()
	writeWake func()
}

const (
	readyRead      uint32 = 1 << 0
	readyWrite     uint32 = 1 << 1
	readyReadCanc  uint32 = 1 << 2
	readyWriteCanc uint32 = 1 << 3
)

func directionMask(dir op.Direction) uint32 {
	if dir == op.DirWrite {
		return readyWrite
	}
	return readyRead
}

func cancelMask(dir op.Direction) uint32 {
	if dir == op.DirWrite {
		return readyWriteCanc
	}
	return readyReadCanc
}

// ReadinessDriver drives the runtime's I/O via epoll: an operation polls
// readiness, and once the fd is reported ready the syscall itself is
// issued directly by the calling goroutine (never by the driver).
type ReadinessDriver struct {
	mu        sync.Mutex
	epfd      int
	entries   slab.Slab[*readinessEntry]
	wakerCh   chan func()
	sharedWaker *eventWaker
	wakeupFd  int
}

// NewReadinessDriver creates an epoll-backed driver with its own wakeup
// eventfd registered for cross-thread unpark.
func NewReadinessDriver() (*ReadinessDriver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeupFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeupFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeupFd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wakeupFd)
		return nil, err
	}

	return &ReadinessDriver{
		epfd:        epfd,
		wakerCh:     make(chan func(), 256),
		sharedWaker: newEventWaker(wakeupFd),
		wakeupFd:    wakeupFd,
	}, nil
}

// Register adds fd to the epoll instance, interested in both read and
// write readiness, and returns its slab-assigned registration token.
func (d *ReadinessDriver) Register(fd int) (int, error) {
	d.mu.Lock()
	token := d.entries.Insert(&readinessEntry{})
	d.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(token)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		d.mu.Lock()
		d.entries.Remove(token)
		d.mu.Unlock()
		return 0, err
	}
	return token, nil
}

// Deregister implements sharedfd.Deregisterer.
func (d *ReadinessDriver) Deregister(token int) error {
	d.mu.Lock()
	d.entries.Remove(token)
	d.mu.Unlock()
	return nil
}

// Submit always succeeds immediately for the readiness driver: there is
// no kernel submission queue, only a direct syscall gated on readiness
// inside PollOp.
func (d *ReadinessDriver) Submit(o op.OpAble) (*op.Op[op.OpAble], error) {
	return op.NewOp[op.OpAble](d, -1, o), nil
}

// PollOp implements op.DriverHandle's readiness walk: no interest means
// call directly; ready means call and, on EWOULDBLOCK, clear the bit and
// report pending; not ready means park a waker and report pending.
func (d *ReadinessDriver) PollOp(index int, data op.OpAble, wake func()) (op.CompletionMeta, bool) {
	dir, token, ok := data.LegacyInterest()
	if !ok {
		fd, err := data.LegacyCall()
		return op.CompletionMeta{Result: fd, Err: err}, true
	}

	d.mu.Lock()
	entryPtr, found := d.entries.Get(token)
	d.mu.Unlock()
	if !found {
		return op.CompletionMeta{Err: unix.EBADF}, true
	}
	entry := *entryPtr

	entry.mu.Lock()
	mask := directionMask(dir)
	cmask := cancelMask(dir)
	if entry.readiness&cmask != 0 {
		entry.readiness &^= cmask
		entry.mu.Unlock()
		return op.CompletionMeta{Err: unix.ECANCELED}, true
	}
	if entry.readiness&mask == 0 {
		if dir == op.DirWrite {
			entry.writeWake = wake
		} else {
			entry.readWake = wake
		}
		entry.mu.Unlock()
		return op.CompletionMeta{}, false
	}
	entry.mu.Unlock()

	fd, err := data.LegacyCall()
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		entry.mu.Lock()
		entry.readiness &^= mask
		if dir == op.DirWrite {
			entry.writeWake = wake
		} else {
			entry.readWake = wake
		}
		entry.mu.Unlock()
		return op.CompletionMeta{}, false
	}
	return op.CompletionMeta{Result: fd, Err: err}, true
}

// DropOp marks the operation's direction as cancelled so a parked
// PollOp call completes with unix.ECANCELED the next time it's driven.
func (d *ReadinessDriver) DropOp(index int, data op.OpAble, skipCancel bool) {
	if skipCancel {
		return
	}
	dir, token, ok := data.LegacyInterest()
	if !ok {
		return
	}
	d.mu.Lock()
	entryPtr, found := d.entries.Get(token)
	d.mu.Unlock()
	if !found {
		return
	}
	entry := *entryPtr
	entry.mu.Lock()
	entry.readiness |= cancelMask(dir)
	var w func()
	if dir == op.DirWrite {
		w = entry.writeWake
	} else {
		w = entry.readWake
	}
	entry.mu.Unlock()
	if w != nil {
		w()
	}
}

// SubmitClose implements sharedfd.CloseSubmitter for symmetry with the
// completion driver, even though legacy-mode SharedFds normally close
// synchronously in Close itself. It exists so code that's generic over
// driver kind (e.g. the net test fixtures) can treat both uniformly.
func (d *ReadinessDriver) SubmitClose(fd int) (sharedfd.CloseWaiter, error) {
	return closedWaiter{err: unix.Close(fd)}, nil
}

type closedWaiter struct{ err error }

func (c closedWaiter) Wait(ctx context.Context) error { return c.err }

// Park blocks until epoll reports an event, timeout elapses, or a
// foreign goroutine writes to the wakeup eventfd. Foreign wakers queued
// on wakerCh are drained first exactly as in the completion driver, so a
// wake racing with Park never causes a spurious full-timeout sleep.
func (d *ReadinessDriver) Park(timeout *time.Duration) error {
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
				continue
			default:
			}
			break
		}
	}
	if !needWait && timeout == nil {
		zero := time.Duration(0)
		timeout = &zero
	}

	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
	}

	var events [maxEpollEvents]unix.EpollEvent
	n, err := unix.EpollWait(d.epfd, events[:], ms)
	if err != nil && err != unix.EINTR {
		return err
	}
	d.sharedWaker.setAwake(true)

	for i := 0; i < n; i++ {
		token := int(events[i].Fd)
		if token == d.wakeupFd {
			var buf [8]byte
			_, _ = unix.Read(d.wakeupFd, buf[:])
			continue
		}
		d.dispatch(token, events[i].Events)
	}

	logging.Default().Debug("readiness driver park cycle complete", "events", n)
	return nil
}

func (d *ReadinessDriver) dispatch(token int, mask uint32) {
	d.mu.Lock()
	entryPtr, ok := d.entries.Get(token)
	d.mu.Unlock()
	if !ok {
		return
	}
	entry := *entryPtr

	entry.mu.Lock()
	if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		entry.readiness |= readyRead
	}
	if mask&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		entry.readiness |= readyWrite
	}
	rw, ww := entry.readWake, entry.writeWake
	entry.readWake, entry.writeWake = nil, nil
	entry.mu.Unlock()

	if rw != nil {
		rw()
	}
	if ww != nil {
		ww()
	}
}

// Unpark returns a thread-safe handle any goroutine can use to wake this
// driver's Park loop via its wakeup eventfd.
func (d *ReadinessDriver) Unpark() Unpark {
	return unparkHandle{waker: d.sharedWaker}
}

// Close tears down the epoll instance and the wakeup eventfd.
func (d *ReadinessDriver) Close() error {
	_ = unix.Close(d.wakeupFd)
	return unix.Close(d.epfd)
}
