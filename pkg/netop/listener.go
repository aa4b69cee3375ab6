package netop

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	corerun "github.com/corefd/corerun"
	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// TCPListener is a bound, listening IPv4 socket wired to a driver so
// Accept can submit AcceptOps against it.
type TCPListener struct {
	fd  sharedfd.SharedFd
	drv driver.Driver
}

// ListenTCP binds and listens on addr (host:port; port 0 binds to an
// ephemeral one, mirroring spec.md §8 scenario 1's "127.0.0.1:0").
func ListenTCP(drv driver.Driver, addr string) (*TCPListener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}
	ip, err := ipv4Bytes(host)
	if err != nil {
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}
	if err := unix.Bind(fd, sockaddrIn4(ip, port)); err != nil {
		unix.Close(fd)
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, corerun.Wrap("netop.ListenTCP", err)
	}

	sfd, err := newSharedFd(drv, fd)
	if err != nil {
		return nil, err
	}
	return &TCPListener{fd: sfd, drv: drv}, nil
}

// Addr returns the listener's bound local address, resolving the actual
// ephemeral port the kernel assigned when one wasn't requested.
func (l *TCPListener) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(l.fd.RawFd())
	if err != nil {
		return nil, corerun.Wrap("netop.TCPListener.Addr", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, corerun.New("netop.TCPListener.Addr", corerun.ErrCodeOS, "unexpected sockaddr family")
	}
	return &net.TCPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}, nil
}

// Accept blocks (via Op.Poll, see pkg/op's blocking-poll contract) until
// a connection arrives or ctx is cancelled, returning a TCPStream
// wrapping the accepted socket.
//
// If ctx is cancelled or the returned future is otherwise abandoned
// before a connection arrives, Op's Drop path cancels the accept; any
// fd the kernel had already produced by the time cancellation lands is
// closed by MaybeFd rather than leaked (spec.md §8 scenario 2).
func (l *TCPListener) Accept(ctx context.Context) (*TCPStream, error) {
	o, err := l.drv.Submit(NewAcceptOp(l.fd))
	if err != nil {
		return nil, corerun.Wrap("netop.TCPListener.Accept", err)
	}

	completion, ready, err := o.Poll(ctx)
	if !ready {
		o.Drop()
		if err == nil {
			err = context.Canceled
		}
		return nil, corerun.Wrap("netop.TCPListener.Accept", err)
	}
	if err != nil {
		return nil, corerun.Wrap("netop.TCPListener.Accept", err)
	}
	if completion.Meta.Err != nil {
		return nil, corerun.Wrap("netop.TCPListener.Accept", completion.Meta.Err)
	}

	rawFd := int(completion.Meta.Result.Into())
	sfd, err := newSharedFd(l.drv, rawFd)
	if err != nil {
		return nil, err
	}
	return &TCPStream{in: &streamInner{fd: sfd, drv: l.drv}}, nil
}

// Close releases the listener's last reference to its descriptor.
func (l *TCPListener) Close(ctx context.Context) error {
	return l.fd.Close(ctx)
}

func ipv4Bytes(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" {
		return out, nil
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return out, corerun.New("netop.ipv4Bytes", corerun.ErrCodeOS, "not an IPv4 address: "+host)
	}
	copy(out[:], ip)
	return out, nil
}
