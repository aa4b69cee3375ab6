package netop

import (
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/pkg/iobuf"
	"github.com/corefd/corerun/pkg/op"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// SendOp writes buf to fd. A zero-length buffer returns immediately
// with Ok(0), the boundary behavior spec.md §8 names explicitly.
type SendOp struct {
	fd  sharedfd.SharedFd
	Buf iobuf.IoBuf
}

// NewSendOp builds a send operation writing buf.
func NewSendOp(fd sharedfd.SharedFd, buf iobuf.IoBuf) SendOp {
	return SendOp{fd: fd, Buf: buf}
}

func (SendOp) RetIsFD() bool  { return false }
func (SendOp) SkipCancel() bool { return false }

func (s SendOp) LegacyInterest() (op.Direction, int, bool) {
	tok, ok := s.fd.RegisteredToken()
	return op.DirWrite, tok, ok
}

func (s SendOp) LegacyCall() (op.MaybeFd, error) {
	if s.Buf.BytesInit() == 0 {
		return op.NewNonFdResult(0), nil
	}
	n, err := unix.Write(s.fd.RawFd(), s.Buf.Bytes())
	if err != nil {
		return op.MaybeFd{}, err
	}
	return op.NewNonFdResult(uint32(n)), nil
}

// PrepareSQE implements the completion driver's uring_op contract.
func (s SendOp) PrepareSQE(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareWrite(int32(s.fd.RawFd()), s.Buf.Bytes(), 0, 0)
}
