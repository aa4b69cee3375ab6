package netop

import (
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// AcceptOp accepts one pending connection off a listening socket. Its
// result is a file descriptor, so MaybeFd's auto-close protects against
// leaking the accepted socket if the accept future is dropped after the
// kernel/syscall already produced one but before the caller claimed it
// (spec.md §8 property 3 and the accept-cancellation scenario).
type AcceptOp struct {
	ln sharedfd.SharedFd
}

// NewAcceptOp builds an accept operation against the listening socket
// wrapped by ln.
func NewAcceptOp(ln sharedfd.SharedFd) AcceptOp { return AcceptOp{ln: ln} }

func (a AcceptOp) RetIsFD() bool  { return true }
func (AcceptOp) SkipCancel() bool { return false }

func (a AcceptOp) LegacyInterest() (op.Direction, int, bool) {
	tok, ok := a.ln.RegisteredToken()
	return op.DirRead, tok, ok
}

func (a AcceptOp) LegacyCall() (op.MaybeFd, error) {
	fd, _, err := unix.Accept4(a.ln.RawFd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return op.MaybeFd{}, err
	}
	return op.NewFdResult(uint32(fd)), nil
}

// PrepareSQE implements the completion driver's uring_op contract.
func (a AcceptOp) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareAccept(int32(a.ln.RawFd()), 0, 0, unix.SOCK_NONBLOCK)
}
