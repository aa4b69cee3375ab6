// Package driver implements the two I/O driver backends the runtime can
// park on: a completion-mode driver backed by io_uring and a
// readiness-mode driver backed by epoll, unified behind the Driver
// interface so the scheduler never needs to know which one it's running
// against.
package driver

import (
	"context"
	"time"

	"github.com/corefd/corerun/pkg/op"
)

// Driver is implemented by both the completion and readiness backends.
// Submit enqueues an operation without blocking; Park blocks the calling
// OS thread until either timeout elapses, a kernel completion arrives,
// or a foreign unpark wakes it.
type Driver interface {
	Submit(o op.OpAble) (*op.Op[op.OpAble], error)
	Park(timeout *time.Duration) error
	Unpark() Unpark
	Close() error
}

// Unpark is a cloneable, thread-safe handle that lets a foreign
// goroutine wake a parked driver without going through its owning
// thread's scheduler.
type Unpark interface {
	UnparkNow() error
}

// Kind identifies which concrete Driver a RuntimeBuilder should
// construct.
type Kind int

const (
	// KindAuto prefers the completion driver and falls back to the
	// readiness driver if io_uring setup fails (e.g. an unsupported
	// kernel or a seccomp profile blocking io_uring_setup).
	KindAuto Kind = iota
	KindCompletion
	KindReadiness
)

// New constructs the requested driver kind with entries as the
// completion ring depth (ignored by the readiness driver).
func New(kind Kind, entries uint32) (Driver, error) {
	switch kind {
	case KindCompletion:
		return NewCompletionDriver(entries)
	case KindReadiness:
		return NewReadinessDriver()
	default:
		d, err := NewCompletionDriver(entries)
		if err == nil {
			return d, nil
		}
		return NewReadinessDriver()
	}
}

// blockingPoll waits on a single-shot "ready" channel, returning early
// with ctx's error if ctx is done first. Neither backend calls it.
func blockingPoll(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
