package reactor

import (
	"io"
)

type (
	// IO is a synchronous handle, which may be registered with a [Reactor].
	//
	// Read and Write must not block: once registered, the handle is expected
	// to be in non-blocking mode, and to return an error satisfying
	// [IsWouldBlock] when it cannot make progress. The platform handle
	// identity (sysIO) is a file descriptor on unix, and a socket handle on
	// windows.
	IO interface {
		io.Reader
		io.Writer
		sysIO
	}

	// VectoredReader may be implemented by an [IO] to support scatter reads.
	VectoredReader interface {
		ReadVectored(bufs [][]byte) (int, error)
	}

	// VectoredWriter may be implemented by an [IO] to support gather writes.
	VectoredWriter interface {
		WriteVectored(bufs [][]byte) (int, error)
	}

	// Flusher may be implemented by an [IO] which buffers writes.
	Flusher interface {
		Flush() error
	}

	// IOHandle is a type-erased wrapper around an [IO]. It adds no buffering,
	// and every method is a pass-through, preserving partial completion.
	IOHandle struct {
		io IO
	}
)

// NewIOHandle wraps v. It panics if v is nil.
func NewIOHandle(v IO) *IOHandle {
	if v == nil {
		panic(`reactor: nil io`)
	}
	return &IOHandle{io: v}
}

// Unwrap returns the underlying IO.
func (x *IOHandle) Unwrap() IO { return x.io }

func (x *IOHandle) Read(p []byte) (int, error) { return x.io.Read(p) }

func (x *IOHandle) Write(p []byte) (int, error) { return x.io.Write(p) }

// ReadVectored reads into bufs, in order. If the underlying IO does not
// implement [VectoredReader], a single read into the first non-empty buffer
// is performed.
func (x *IOHandle) ReadVectored(bufs [][]byte) (int, error) {
	if v, ok := x.io.(VectoredReader); ok {
		return v.ReadVectored(bufs)
	}
	for _, b := range bufs {
		if len(b) != 0 {
			return x.io.Read(b)
		}
	}
	return x.io.Read(nil)
}

// WriteVectored writes bufs, in order. If the underlying IO does not
// implement [VectoredWriter], a single write of the first non-empty buffer is
// performed.
func (x *IOHandle) WriteVectored(bufs [][]byte) (int, error) {
	if v, ok := x.io.(VectoredWriter); ok {
		return v.WriteVectored(bufs)
	}
	for _, b := range bufs {
		if len(b) != 0 {
			return x.io.Write(b)
		}
	}
	return x.io.Write(nil)
}

func (x *IOHandle) WriteString(s string) (int, error) {
	if v, ok := x.io.(io.StringWriter); ok {
		return v.WriteString(s)
	}
	return x.io.Write([]byte(s))
}

// CanFlush reports whether the underlying IO implements [Flusher].
func (x *IOHandle) CanFlush() bool {
	_, ok := x.io.(Flusher)
	return ok
}

// Flush is a no-op unless the underlying IO implements [Flusher].
func (x *IOHandle) Flush() error {
	if v, ok := x.io.(Flusher); ok {
		return v.Flush()
	}
	return nil
}

// Close is a no-op unless the underlying IO implements [io.Closer].
func (x *IOHandle) Close() error {
	if v, ok := x.io.(io.Closer); ok {
		return v.Close()
	}
	return nil
}

func vectoredLen(bufs [][]byte) (n int) {
	for _, b := range bufs {
		n += len(b)
	}
	return
}
