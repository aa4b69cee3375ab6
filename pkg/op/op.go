package op

import (
	"context"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MaybeFd wraps a raw syscall return value that may or may not be a file
// descriptor. If it is a descriptor and was never claimed via Into, its
// Close method (called from Lifecycle.Complete's Ignored branch, once
// the kernel result for a dropped operation finally lands, and from
// Lifecycle.Drop when the result landed but was never polled) closes it,
// preventing a leak when an operation is cancelled after the kernel
// already handed back an fd.
type MaybeFd struct {
	isFd     bool
	fd       uint32
	consumed atomic.Bool
}

func newMaybeFd(fd uint32, isFd bool, ok bool) MaybeFd {
	if !ok {
		return MaybeFd{}
	}
	return MaybeFd{isFd: isFd, fd: fd}
}

// NewFdResult wraps a syscall result known to be a file descriptor.
func NewFdResult(fd uint32) MaybeFd {
	return MaybeFd{isFd: true, fd: fd}
}

// NewNonFdResult wraps a syscall result that is a plain byte count or
// other non-descriptor integer.
func NewNonFdResult(n uint32) MaybeFd {
	return MaybeFd{isFd: false, fd: n}
}

// Fd returns the raw value, regardless of whether it is a descriptor.
func (m MaybeFd) Fd() uint32 { return m.fd }

// Into claims the wrapped descriptor, disarming the automatic close.
// Call this once the value has been handed off to a SharedFd or similar
// owner; any other use closes the descriptor itself.
func (m *MaybeFd) Into() uint32 {
	m.consumed.Store(true)
	return m.fd
}

// Close closes the wrapped descriptor if it is one and has not already
// been claimed via Into. Safe to call multiple times.
func (m *MaybeFd) Close() {
	if !m.isFd {
		return
	}
	if m.consumed.CompareAndSwap(false, true) {
		_ = unix.Close(int(m.fd))
	}
}

// OpAble is implemented by every concrete operation type (accept, read,
// write, connect, close, timeout, cancel, ...). A completion-mode driver
// fills the submission entry through the op's optional PrepareSQE method
// (an op without one is submitted as a no-op); a readiness-mode driver
// calls LegacyInterest/LegacyCall to poll the syscall directly.
type OpAble interface {
	// RetIsFD reports whether this operation's result is a descriptor
	// that must be closed if the operation is cancelled unconsumed.
	RetIsFD() bool
	// SkipCancel reports whether cancelling this operation should skip
	// issuing an ASYNC_CANCEL SQE (e.g. the cancel/timeout ops themselves).
	SkipCancel() bool
	// LegacyInterest reports the readiness direction and registration
	// token this op needs (absent for index-less/non-fd ops).
	LegacyInterest() (dir Direction, token int, ok bool)
	// LegacyCall performs the syscall directly, for use by the readiness
	// driver once the fd is reported ready in the requested direction.
	LegacyCall() (MaybeFd, error)
}

// Direction distinguishes read-readiness from write-readiness interest,
// mirroring monoio's driver::ready::Direction.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

// Completion is the value an Op resolves to: the per-operation data
// (which, for I/O ops, still owns the buffer) plus the raw result.
type Completion[T OpAble] struct {
	Data T
	Meta CompletionMeta
}

// DriverHandle is the minimal surface Op needs from whichever driver
// submitted it, so this package doesn't import the driver package
// (which in turn imports this one to build SQEs).
type DriverHandle interface {
	PollOp(index int, data OpAble, wake func()) (CompletionMeta, bool)
	DropOp(index int, data OpAble, skipCancel bool)
}

// Op is an in-flight operation: an index into the owning driver's slab
// plus the per-operation data, which is taken (zeroed) once the op
// resolves so a second poll cannot double-consume the buffer.
type Op[T OpAble] struct {
	driver DriverHandle
	index  int
	data   *T
	done   bool
}

// NewOp wraps a freshly submitted operation. Only called by driver
// implementations immediately after slab insertion.
func NewOp[T OpAble](driver DriverHandle, index int, data T) *Op[T] {
	return &Op[T]{driver: driver, index: index, data: &data}
}

// Index reports the slab index backing this operation, used to build an
// OpCanceller.
func (o *Op[T]) Index() int { return o.index }

// Poll drives the operation to completion. ctx is consulted for
// cancellation the same way a real Future's Context is: if ctx is
// cancelled before the op completes, Poll returns the context error and
// the caller is expected to drop the Op (triggering the Ignored path).
func (o *Op[T]) Poll(ctx context.Context) (Completion[T], bool, error) {
	if o.done {
		panic("op: poll called after completion")
	}

	select {
	case <-ctx.Done():
		return Completion[T]{}, false, ctx.Err()
	default:
	}

	readyCh := make(chan struct{}, 1)
	meta, ready := o.driver.PollOp(o.index, *o.data, func() {
		select {
		case readyCh <- struct{}{}:
		default:
		}
	})
	if !ready {
		select {
		case <-readyCh:
			meta, ready = o.driver.PollOp(o.index, *o.data, nil)
		case <-ctx.Done():
			return Completion[T]{}, false, ctx.Err()
		}
		if !ready {
			return Completion[T]{}, false, nil
		}
	}

	o.done = true
	o.index = -1
	data := *o.data
	o.data = nil
	return Completion[T]{Data: data, Meta: meta}, true, nil
}

// Drop releases the operation's interest in its result. If the
// operation already completed, its slab slot is reclaimed immediately;
// otherwise the driver holds the per-op data until the kernel result
// lands, matching monoio's Ignored(Box<dyn Any>) tombstone.
func (o *Op[T]) Drop() {
	if o.done || o.data == nil {
		return
	}
	o.driver.DropOp(o.index, *o.data, (*o.data).SkipCancel())
	o.data = nil
}

// OpCanceller is a detached handle letting a foreign goroutine (or a
// context cancellation callback) request cancellation of an in-flight
// operation without holding the Op itself.
type OpCanceller struct {
	Index     int
	Direction Direction
	HasDir    bool
}
