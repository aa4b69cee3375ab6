package netop

import (
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// ConnectOp drives a non-blocking connect(2) to completion: the first
// LegacyCall issues the connect syscall (an immediate success or
// EINPROGRESS are both expected); once the socket reports write
// readiness, a second LegacyCall reads SO_ERROR to discover whether the
// connection actually succeeded, exactly the standard non-blocking
// connect idiom mio/monoio's legacy driver also follows.
type ConnectOp struct {
	fd      sharedfd.SharedFd
	addr    unix.Sockaddr
	started bool
}

// NewConnectOp builds a connect operation for the already-created socket
// fd, dialing addr.
func NewConnectOp(fd sharedfd.SharedFd, addr unix.Sockaddr) *ConnectOp {
	return &ConnectOp{fd: fd, addr: addr}
}

func (c *ConnectOp) RetIsFD() bool  { return false }
func (*ConnectOp) SkipCancel() bool { return false }

func (c *ConnectOp) LegacyInterest() (op.Direction, int, bool) {
	tok, ok := c.fd.RegisteredToken()
	return op.DirWrite, tok, ok
}

func (c *ConnectOp) LegacyCall() (op.MaybeFd, error) {
	if !c.started {
		c.started = true
		err := unix.Connect(c.fd.RawFd(), c.addr)
		if err == nil {
			return op.NewNonFdResult(0), nil
		}
		if err == unix.EINPROGRESS {
			return op.MaybeFd{}, unix.EAGAIN
		}
		return op.MaybeFd{}, err
	}

	errno, err := unix.GetsockoptInt(c.fd.RawFd(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return op.MaybeFd{}, err
	}
	if errno != 0 {
		return op.MaybeFd{}, unix.Errno(errno)
	}
	return op.NewNonFdResult(0), nil
}

// PrepareSQE implements the completion driver's uring_op contract.
func (c *ConnectOp) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sa4, _ := c.addr.(*unix.SockaddrInet4)
	raw := sockaddrInet4ToRaw(sa4)
	sqe.PrepareConnect(int32(c.fd.RawFd()), &raw)
}
