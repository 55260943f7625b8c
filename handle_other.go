//go:build !unix && !windows

package reactor

// sysIO is the platform handle identity of an [IO]. There is no readiness
// backend for this platform, but fake ones may still be used.
type sysIO interface {
	Fd() uintptr
}

// PlatformHandle returns the file descriptor of the underlying IO.
func (x *IOHandle) PlatformHandle() uintptr { return x.io.Fd() }

func isSysWouldBlock(error) bool { return false }
