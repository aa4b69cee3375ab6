package netop

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	corerun "github.com/corefd/corerun"
	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/iobuf"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// streamInner is the single descriptor a TCPStream and its split halves
// all share, mirroring monoio's Rc<UnsafeCell<TcpStream>> — Go needs no
// interior-mutability wrapper since a bare pointer already gives every
// holder the same underlying SharedFd.
type streamInner struct {
	fd  sharedfd.SharedFd
	drv driver.Driver
}

// TCPStream is a connected IPv4 socket.
type TCPStream struct {
	in *streamInner
}

// DialTCP connects to addr (host:port), blocking (via Op.Poll) until the
// connection completes or ctx is cancelled.
func DialTCP(ctx context.Context, drv driver.Driver, addr string) (*TCPStream, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	ip, err := ipv4Bytes(host)
	if err != nil {
		return nil, corerun.Wrap("netop.DialTCP", err)
	}

	rawFd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	sfd, err := newSharedFd(drv, rawFd)
	if err != nil {
		return nil, err
	}

	o, err := drv.Submit(NewConnectOp(sfd, sockaddrIn4(ip, port)))
	if err != nil {
		sfd.Close(ctx)
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	completion, ready, err := o.Poll(ctx)
	if !ready {
		o.Drop()
		sfd.Close(ctx)
		if err == nil {
			err = context.Canceled
		}
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	if err != nil {
		sfd.Close(ctx)
		return nil, corerun.Wrap("netop.DialTCP", err)
	}
	if completion.Meta.Err != nil {
		sfd.Close(ctx)
		return nil, corerun.Wrap("netop.DialTCP", completion.Meta.Err)
	}

	return &TCPStream{in: &streamInner{fd: sfd, drv: drv}}, nil
}

// Read fills buf from the socket, returning the number of bytes read.
func (s *TCPStream) Read(ctx context.Context, buf iobuf.IoBufMut) (int, error) {
	o, err := s.in.drv.Submit(NewRecvOp(s.in.fd, buf))
	if err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Read", err)
	}
	completion, ready, err := o.Poll(ctx)
	if !ready {
		o.Drop()
		if err == nil {
			err = context.Canceled
		}
		return 0, corerun.Wrap("netop.TCPStream.Read", err)
	}
	if err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Read", err)
	}
	if completion.Meta.Err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Read", completion.Meta.Err)
	}
	n := int(completion.Meta.Result.Fd())
	buf.SetInit(n)
	return n, nil
}

// Write sends buf's initialized bytes over the socket.
func (s *TCPStream) Write(ctx context.Context, buf iobuf.IoBuf) (int, error) {
	o, err := s.in.drv.Submit(NewSendOp(s.in.fd, buf))
	if err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Write", err)
	}
	completion, ready, err := o.Poll(ctx)
	if !ready {
		o.Drop()
		if err == nil {
			err = context.Canceled
		}
		return 0, corerun.Wrap("netop.TCPStream.Write", err)
	}
	if err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Write", err)
	}
	if completion.Meta.Err != nil {
		return 0, corerun.Wrap("netop.TCPStream.Write", completion.Meta.Err)
	}
	return int(completion.Meta.Result.Fd()), nil
}

// Close releases the stream's last reference to its descriptor.
func (s *TCPStream) Close(ctx context.Context) error {
	return s.in.fd.Close(ctx)
}

// OwnedReadHalf is the read-only half of a split TCPStream.
type OwnedReadHalf struct{ in *streamInner }

// OwnedWriteHalf is the write-only half of a split TCPStream.
type OwnedWriteHalf struct{ in *streamInner }

// IntoSplit divides s into independent read/write halves sharing the
// same underlying descriptor, matching monoio's into_split.
func (s *TCPStream) IntoSplit() (OwnedReadHalf, OwnedWriteHalf) {
	return OwnedReadHalf{in: s.in}, OwnedWriteHalf{in: s.in}
}

func (r OwnedReadHalf) Read(ctx context.Context, buf iobuf.IoBufMut) (int, error) {
	return (&TCPStream{in: r.in}).Read(ctx, buf)
}

func (w OwnedWriteHalf) Write(ctx context.Context, buf iobuf.IoBuf) (int, error) {
	return (&TCPStream{in: w.in}).Write(ctx, buf)
}

// ReuniteError is returned by Reunite when the two halves did not
// originate from the same stream; it carries both halves back so the
// caller doesn't lose them.
type ReuniteError struct {
	Read  OwnedReadHalf
	Write OwnedWriteHalf
}

func (e *ReuniteError) Error() string {
	return "netop: tried to reunite halves from different streams"
}

// Reunite recombines a previously split stream's halves back into a
// single TCPStream, failing if they don't share the same underlying
// descriptor.
func Reunite(r OwnedReadHalf, w OwnedWriteHalf) (*TCPStream, error) {
	if r.in != w.in {
		return nil, &ReuniteError{Read: r, Write: w}
	}
	return &TCPStream{in: r.in}, nil
}
