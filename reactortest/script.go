package reactortest

import (
	"bytes"
	"os"
	"sync"

	"github.com/joeycumines/go-reactor"
)

// Script is a scripted, non-blocking reactor.IO. Each Read or Write call
// consumes the next step queued for its direction, and fails with
// reactor.ErrWouldBlock if there is none.
//
// Script does not implement the vectored interfaces, so reactor.IOHandle
// falls back to single-buffer operations.
type Script struct {
	reads      []step
	writes     []step
	written    bytes.Buffer
	handle     uintptr
	readCalls  int
	writeCalls int
	mu         sync.Mutex
	closed     bool
}

// step is a queued outcome: data to read, or a number of bytes to accept,
// or an error.
type step struct {
	err  error
	data []byte
	n    int
}

var _ reactor.IO = (*Script)(nil)

// NewScript returns an empty Script, with the given (fake) platform handle.
func NewScript(handle uintptr) *Script { return &Script{handle: handle} }

// Fd returns the fake platform handle.
func (x *Script) Fd() uintptr { return x.handle }

// RawSocket returns the fake platform handle.
func (x *Script) RawSocket() uintptr { return x.handle }

// PushRead queues data to be returned by a Read. Data that does not fit the
// read buffer remains queued, for the next Read.
func (x *Script) PushRead(data []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reads = append(x.reads, step{data: data})
}

// PushReadErr queues an error to be returned by a Read.
func (x *Script) PushReadErr(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reads = append(x.reads, step{err: err})
}

// PushWrite queues a Write that accepts up to n bytes. A negative n accepts
// everything.
func (x *Script) PushWrite(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.writes = append(x.writes, step{n: n})
}

// PushWriteErr queues an error to be returned by a Write.
func (x *Script) PushWriteErr(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.writes = append(x.writes, step{err: err})
}

// Written returns a copy of every byte accepted by Write.
func (x *Script) Written() []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	return bytes.Clone(x.written.Bytes())
}

// ReadCalls returns the number of Read calls, including would-block ones.
func (x *Script) ReadCalls() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.readCalls
}

// WriteCalls returns the number of Write calls, including would-block ones.
func (x *Script) WriteCalls() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.writeCalls
}

// Closed reports whether Close has been called.
func (x *Script) Closed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closed
}

func (x *Script) Read(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.readCalls++
	if x.closed {
		return 0, os.ErrClosed
	}
	if len(x.reads) == 0 {
		return 0, reactor.ErrWouldBlock
	}
	s := &x.reads[0]
	if s.err != nil {
		err := s.err
		x.reads = x.reads[1:]
		return 0, err
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	if len(s.data) == 0 {
		x.reads = x.reads[1:]
	}
	return n, nil
}

func (x *Script) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.writeCalls++
	if x.closed {
		return 0, os.ErrClosed
	}
	if len(x.writes) == 0 {
		return 0, reactor.ErrWouldBlock
	}
	s := x.writes[0]
	x.writes = x.writes[1:]
	if s.err != nil {
		return 0, s.err
	}
	n := len(p)
	if s.n >= 0 && s.n < n {
		n = s.n
	}
	x.written.Write(p[:n])
	return n, nil
}

// Close marks the script closed. Subsequent operations fail with
// os.ErrClosed.
func (x *Script) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}

// FlushScript is a Script which also implements reactor.Flusher. Each
// Flush consumes the next queued write step, as a flush is a write-direction
// operation.
type FlushScript struct {
	*Script
	flushes int
}

var _ reactor.Flusher = (*FlushScript)(nil)

// NewFlushScript returns an empty FlushScript.
func NewFlushScript(handle uintptr) *FlushScript {
	return &FlushScript{Script: NewScript(handle)}
}

// Flush implements reactor.Flusher.
func (x *FlushScript) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return os.ErrClosed
	}
	if len(x.writes) == 0 {
		return reactor.ErrWouldBlock
	}
	s := x.writes[0]
	x.writes = x.writes[1:]
	if s.err != nil {
		return s.err
	}
	x.flushes++
	return nil
}

// Flushes returns the number of successful Flush calls.
func (x *FlushScript) Flushes() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushes
}
