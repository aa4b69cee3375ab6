// Package sharedfd implements a reference-counted file descriptor handle
// that defers the actual close syscall until every in-flight operation
// against the descriptor has finished — closing (and so potentially
// reusing) an fd while a completion-mode read still references it would
// let an unrelated future operation silently target the wrong file.
package sharedfd

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// uringPhase tracks the uring-mode close handshake: Init while the
// descriptor is simply open, Closing once the close SQE is in flight,
// Closed once the kernel has confirmed it. phaseWaiting is declared but
// Close never enters it; Close moves straight from Init to Closing.
type uringPhase int

const (
	phaseInit uringPhase = iota
	phaseWaiting
	phaseClosing
	phaseClosed
)

// CloseWaiter is satisfied by the completion driver's in-flight close Op
// so this package doesn't need to depend on the driver package: it only
// needs to block until the close SQE resolves.
type CloseWaiter interface {
	Wait(ctx context.Context) error
}

// CloseSubmitter is implemented by a completion-mode driver: it submits
// an async close SQE for fd and returns a waiter for its result.
type CloseSubmitter interface {
	SubmitClose(fd int) (CloseWaiter, error)
}

// Deregisterer is implemented by a readiness-mode driver: it removes a
// previously registered fd from the epoll instance.
type Deregisterer interface {
	Deregister(token int) error
}

type inner struct {
	fd       int
	refCount atomic.Int32

	mu    sync.Mutex
	uring bool
	phase uringPhase
	token int // legacy registration token, -1 if unregistered
	had   bool
	close CloseWaiter

	submitter  CloseSubmitter
	deregister Deregisterer
}

// SharedFd is a cheaply cloned handle to a reference-counted descriptor.
type SharedFd struct {
	in *inner
}

// NewUring wraps fd for use under a completion-mode driver. submitter is
// consulted when the last reference drops, to submit an async close.
func NewUring(fd int, submitter CloseSubmitter) SharedFd {
	in := &inner{fd: fd, uring: true, token: -1, submitter: submitter}
	in.refCount.Store(1)
	return SharedFd{in: in}
}

// NewLegacy wraps fd for use under a readiness-mode driver, already
// registered under token with the given deregisterer.
func NewLegacy(fd, token int, deregister Deregisterer) SharedFd {
	in := &inner{fd: fd, uring: false, token: token, had: token >= 0, deregister: deregister}
	in.refCount.Store(1)
	return SharedFd{in: in}
}

// RawFd returns the underlying descriptor.
func (s SharedFd) RawFd() int { return s.in.fd }

// RegisteredToken reports the readiness-driver registration token, or
// false under a completion-mode driver (which never registers a token).
func (s SharedFd) RegisteredToken() (int, bool) {
	if s.in.uring {
		return 0, false
	}
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	return s.in.token, s.in.had
}

// Clone increments the reference count and returns a new handle over the
// same descriptor.
func (s SharedFd) Clone() SharedFd {
	s.in.refCount.Add(1)
	return SharedFd{in: s.in}
}

// Close drops this handle's reference. Once the count reaches zero, the
// descriptor is actually closed: asynchronously via the driver's close
// op under uring mode, or synchronously (after deregistering) under
// legacy mode. Safe to call at most once per handle produced by New* or
// Clone.
func (s SharedFd) Close(ctx context.Context) error {
	if s.in.refCount.Add(-1) > 0 {
		return nil
	}

	if !s.in.uring {
		s.in.mu.Lock()
		tok, had := s.in.token, s.in.had
		s.in.mu.Unlock()
		if had && s.in.deregister != nil {
			_ = s.in.deregister.Deregister(tok)
		}
		return unix.Close(s.in.fd)
	}

	s.in.mu.Lock()
	if s.in.phase != phaseInit {
		s.in.mu.Unlock()
		return nil
	}
	waiter, err := s.in.submitter.SubmitClose(s.in.fd)
	if err != nil {
		s.in.mu.Unlock()
		return unix.Close(s.in.fd)
	}
	s.in.close = waiter
	s.in.phase = phaseClosing
	s.in.mu.Unlock()

	err = waiter.Wait(ctx)

	s.in.mu.Lock()
	s.in.phase = phaseClosed
	s.in.mu.Unlock()
	return err
}
