//go:build windows

package eventloop

import (
	"net/netip"
	"syscall"
	"unsafe"

	"github.com/joeycumines/go-reactor"
	"golang.org/x/sys/windows"
)

const (
	fionbio = 0x8004667e

	wsaeWouldBlock = syscall.Errno(10035)
	wsaeAlready    = syscall.Errno(10037)
	wsaeNotConn    = syscall.Errno(10057)
)

var procIoctlsocket = ws2dll.NewProc("ioctlsocket")

// setNonblock puts a socket into non-blocking mode. The previous mode
// can't be queried, so restore does nothing.
func setNonblock(fd uintptr) (restore func(), err error) {
	var mode uint32 = 1
	r1, _, e := procIoctlsocket.Call(fd, uintptr(fionbio), uintptr(unsafe.Pointer(&mode)))
	if r1 != 0 {
		return nil, e
	}
	return func() {}, nil
}

// startConnect creates a non-blocking TCP socket, and initiates a
// connection to addr. The connection may still be in progress, see
// connectResult.
func startConnect(addr netip.AddrPort) (*reactor.IOHandle, error) {
	family, sa := sockaddr(addr)

	s, err := windows.Socket(family, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}

	if err := setNonblock(uintptr(s)); err != nil {
		_ = windows.Closesocket(s)
		return nil, err
	}

	switch err := windows.Connect(s, sa); err {
	case nil, wsaeWouldBlock, wsaeAlready:
	default:
		_ = windows.Closesocket(s)
		return nil, err
	}

	return reactor.NewIOHandle(reactor.NewSocket(s)), nil
}

// connectResult reports the outcome of a connection started by
// startConnect, once the socket is writable. A connection still in
// progress is reported as would-block.
func connectResult(h *reactor.IOHandle) error {
	s := windows.Handle(h.PlatformHandle())

	errno, err := windows.GetsockoptInt(s, windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return syscall.Errno(errno)
	}

	if _, err := windows.Getpeername(s); err != nil {
		if err == wsaeNotConn {
			return reactor.ErrWouldBlock
		}
		return err
	}

	return nil
}

func sockaddr(addr netip.AddrPort) (int, windows.Sockaddr) {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return windows.AF_INET, &windows.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	sa := &windows.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		if ifi, err := netInterfaceIndex(zone); err == nil {
			sa.ZoneId = uint32(ifi)
		}
	}
	return windows.AF_INET6, sa
}
