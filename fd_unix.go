//go:build unix

package reactor

import (
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD is a raw file descriptor, implementing [IO], [VectoredReader],
// [VectoredWriter], and [io.Closer]. It performs no buffering, and does not
// change the blocking mode of the descriptor.
type FD struct {
	fd     int
	closed atomic.Bool
}

// NewFD wraps fd. The returned FD takes ownership of the descriptor.
func NewFD(fd int) *FD { return &FD{fd: fd} }

// Fd returns the file descriptor.
func (x *FD) Fd() uintptr { return uintptr(x.fd) }

func (x *FD) Read(p []byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := ignoringEINTR(func() (int, error) { return unix.Read(x.fd, p) })
	return readResult(n, err, len(p))
}

func (x *FD) Write(p []byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := ignoringEINTR(func() (int, error) { return unix.Write(x.fd, p) })
	if n < 0 {
		n = 0
	}
	return n, err
}

// ReadVectored performs a scatter read, using readv where available.
func (x *FD) ReadVectored(bufs [][]byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := ignoringEINTR(func() (int, error) { return readv(x.fd, bufs) })
	return readResult(n, err, vectoredLen(bufs))
}

// WriteVectored performs a gather write, using writev where available.
func (x *FD) WriteVectored(bufs [][]byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := ignoringEINTR(func() (int, error) { return writev(x.fd, bufs) })
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes the descriptor. Subsequent calls return [os.ErrClosed].
func (x *FD) Close() error {
	if x.closed.Swap(true) {
		return os.ErrClosed
	}
	return unix.Close(x.fd)
}

func readResult(n int, err error, size int) (int, error) {
	if n < 0 {
		n = 0
	}
	if err == nil && n == 0 && size != 0 {
		err = io.EOF
	}
	return n, err
}

func ignoringEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if err != unix.EINTR {
			return n, err
		}
	}
}
