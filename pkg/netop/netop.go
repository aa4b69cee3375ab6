// Package netop implements the concrete TCP operations (accept, connect,
// recv, send) needed to drive the core abstractions in pkg/op,
// pkg/sharedfd, and pkg/driver against real sockets. It exists to give
// the scenarios in spec.md §8 (TCP echo, accept-cancellation fd safety,
// split/reunite) something concrete to run against; it is not the
// polished, general-purpose net wrapper spec.md §1 places out of scope —
// just enough OpAble plumbing to exercise the driver and operation
// lifecycle end to end.
package netop

import (
	"golang.org/x/sys/unix"

	corerun "github.com/corefd/corerun"
	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/sharedfd"
)

// newSharedFd wraps fd for use under whichever driver d turns out to be:
// a readiness driver exposes Register, in which case fd is registered
// and wrapped in legacy mode; otherwise d is assumed to be a
// CloseSubmitter (the completion driver) and fd is wrapped in uring
// mode. This mirrors the driver-kind branch spec.md §4.3 describes for
// SharedFd construction.
func newSharedFd(d driver.Driver, fd int) (sharedfd.SharedFd, error) {
	if reg, ok := d.(interface {
		Register(fd int) (int, error)
	}); ok {
		token, err := reg.Register(fd)
		if err != nil {
			unix.Close(fd)
			return sharedfd.SharedFd{}, corerun.Wrap("netop.newSharedFd", err)
		}
		dereg, ok := d.(sharedfd.Deregisterer)
		if !ok {
			unix.Close(fd)
			return sharedfd.SharedFd{}, corerun.New("netop.newSharedFd", corerun.ErrCodeOS, "readiness driver missing Deregisterer")
		}
		return sharedfd.NewLegacy(fd, token, dereg), nil
	}

	sub, ok := d.(sharedfd.CloseSubmitter)
	if !ok {
		unix.Close(fd)
		return sharedfd.SharedFd{}, corerun.New("netop.newSharedFd", corerun.ErrCodeOS, "driver does not implement CloseSubmitter")
	}
	return sharedfd.NewUring(fd, sub), nil
}

// sockaddrIn4 builds a unix.Sockaddr for an IPv4 host:port pair, the
// only address family corerun's test scenarios need.
func sockaddrIn4(ip [4]byte, port int) unix.Sockaddr {
	return &unix.SockaddrInet4{Port: port, Addr: ip}
}

// sockaddrInet4ToRaw converts a SockaddrInet4 to the raw kernel
// representation giouring's PrepareConnect needs, since io_uring's
// connect opcode (unlike the legacy connect(2) wrapper in x/sys/unix)
// takes a raw sockaddr pointer rather than a syscall.Sockaddr value.
func sockaddrInet4ToRaw(sa *unix.SockaddrInet4) unix.RawSockaddrInet4 {
	raw := unix.RawSockaddrInet4{Family: unix.AF_INET}
	raw.Port = htons(uint16(sa.Port))
	raw.Addr = sa.Addr
	return raw
}

func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}
