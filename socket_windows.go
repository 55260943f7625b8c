//go:build windows

package reactor

import (
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/windows"
)

// Socket is a raw, non-blocking socket handle, implementing [IO],
// [VectoredReader], [VectoredWriter], and [io.Closer]. It performs no
// buffering.
type Socket struct {
	s      windows.Handle
	closed atomic.Bool
}

// NewSocket wraps s. The returned Socket takes ownership of the handle.
func NewSocket(s windows.Handle) *Socket { return &Socket{s: s} }

// RawSocket returns the socket handle.
func (x *Socket) RawSocket() uintptr { return uintptr(x.s) }

func (x *Socket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return x.ReadVectored(nil)
	}
	return x.ReadVectored([][]byte{p})
}

func (x *Socket) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return x.WriteVectored(nil)
	}
	return x.WriteVectored([][]byte{p})
}

// ReadVectored performs a scatter read, using WSARecv.
func (x *Socket) ReadVectored(bufs [][]byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	wsa := wsaBufs(bufs)
	if len(wsa) == 0 {
		return 0, nil
	}
	var n, flags uint32
	if err := windows.WSARecv(x.s, &wsa[0], uint32(len(wsa)), &n, &flags, nil, nil); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return int(n), nil
}

// WriteVectored performs a gather write, using WSASend.
func (x *Socket) WriteVectored(bufs [][]byte) (int, error) {
	if x.closed.Load() {
		return 0, os.ErrClosed
	}
	wsa := wsaBufs(bufs)
	if len(wsa) == 0 {
		return 0, nil
	}
	var n uint32
	if err := windows.WSASend(x.s, &wsa[0], uint32(len(wsa)), &n, 0, nil, nil); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the socket. Subsequent calls return [os.ErrClosed].
func (x *Socket) Close() error {
	if x.closed.Swap(true) {
		return os.ErrClosed
	}
	return windows.Closesocket(x.s)
}

func wsaBufs(bufs [][]byte) []windows.WSABuf {
	wsa := make([]windows.WSABuf, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		wsa = append(wsa, windows.WSABuf{Len: uint32(len(b)), Buf: &b[0]})
	}
	return wsa
}
