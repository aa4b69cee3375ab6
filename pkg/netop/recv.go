package netop

import (
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/pkg/iobuf"
	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// RecvOp reads into buf from fd, mirroring monoio's driver/op/recv.rs
// Recv<T>: the buffer is held by value for the whole operation and
// handed back to the caller via Completion regardless of outcome.
type RecvOp struct {
	fd  sharedfd.SharedFd
	Buf iobuf.IoBufMut
}

// NewRecvOp builds a recv operation reading into buf.
func NewRecvOp(fd sharedfd.SharedFd, buf iobuf.IoBufMut) RecvOp {
	return RecvOp{fd: fd, Buf: buf}
}

func (RecvOp) RetIsFD() bool  { return false }
func (RecvOp) SkipCancel() bool { return false }

func (r RecvOp) LegacyInterest() (op.Direction, int, bool) {
	tok, ok := r.fd.RegisteredToken()
	return op.DirRead, tok, ok
}

func (r RecvOp) LegacyCall() (op.MaybeFd, error) {
	n, err := unix.Read(r.fd.RawFd(), r.Buf.WriteBytes())
	if err != nil {
		return op.MaybeFd{}, err
	}
	return op.NewNonFdResult(uint32(n)), nil
}

// PrepareSQE implements the completion driver's uring_op contract.
func (r RecvOp) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareRead(int32(r.fd.RawFd()), r.Buf.WriteBytes(), 0, 0)
}
