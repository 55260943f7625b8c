//go:build windows

package reactor

import (
	"errors"
	"syscall"
)

// sysIO is the platform handle identity of an [IO]: a socket handle.
type sysIO interface {
	RawSocket() uintptr
}

// PlatformHandle returns the socket handle of the underlying IO.
func (x *IOHandle) PlatformHandle() uintptr { return x.io.RawSocket() }

// WSAEWOULDBLOCK
const wsaeWouldBlock = syscall.Errno(10035)

func isSysWouldBlock(err error) bool {
	return errors.Is(err, wsaeWouldBlock)
}
