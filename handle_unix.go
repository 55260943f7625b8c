//go:build unix

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// sysIO is the platform handle identity of an [IO]: a file descriptor.
type sysIO interface {
	Fd() uintptr
}

// PlatformHandle returns the file descriptor of the underlying IO.
func (x *IOHandle) PlatformHandle() uintptr { return x.io.Fd() }

func isSysWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
