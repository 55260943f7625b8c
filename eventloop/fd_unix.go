//go:build unix

package eventloop

import (
	"net/netip"

	"github.com/joeycumines/go-reactor"
	"golang.org/x/sys/unix"
)

// setNonblock puts a handle into non-blocking mode. The returned func
// restores the previous mode.
func setNonblock(fd uintptr) (restore func(), err error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	if err != nil {
		return nil, err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return func() {}, nil
	}
	if err := unix.SetNonblock(int(fd), true); err != nil {
		return nil, err
	}
	return func() { _ = unix.SetNonblock(int(fd), false) }, nil
}

// startConnect creates a non-blocking TCP socket, and initiates a
// connection to addr. The connection may still be in progress, see
// connectResult.
func startConnect(addr netip.AddrPort) (*reactor.IOHandle, error) {
	family, sa := sockaddr(addr)

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	switch err {
	case nil, unix.EINPROGRESS, unix.EALREADY:
	default:
		_ = unix.Close(fd)
		return nil, err
	}

	return reactor.NewIOHandle(reactor.NewFD(fd)), nil
}

// connectResult reports the outcome of a connection started by
// startConnect, once the socket is writable. A connection still in
// progress is reported as would-block.
func connectResult(h *reactor.IOHandle) error {
	fd := int(h.PlatformHandle())

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}

	if _, err := unix.Getpeername(fd); err != nil {
		if err == unix.ENOTCONN {
			return reactor.ErrWouldBlock
		}
		return err
	}

	return nil
}

func sockaddr(addr netip.AddrPort) (int, unix.Sockaddr) {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		if ifi, err := netInterfaceIndex(zone); err == nil {
			sa.ZoneId = uint32(ifi)
		}
	}
	return unix.AF_INET6, sa
}
