package eventloop

import (
	"errors"
)

// MaxFDLimit is the maximum FD value supported, for indexed registration.
const MaxFDLimit = 100000000 // 100M, enough for production with ulimit -n > 1M

// Maximum file descriptor supported with the initial allocation.
const maxFDs = 65536

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
	// EventClosed indicates the poller was closed, and no further events
	// will be delivered. It is delivered to every registered callback, once,
	// as the loop terminates.
	EventClosed
)

// Poller errors.
var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")
)

// IOCallback is the callback type for I/O events. Callbacks are called on
// the loop goroutine, and must not block.
type IOCallback func(IOEvents)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// String returns a human-readable representation of the events.
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var b []byte
	for _, v := range [...]struct {
		bit  IOEvents
		name string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
		{EventClosed, "closed"},
	} {
		if e&v.bit == 0 {
			continue
		}
		if len(b) != 0 {
			b = append(b, '|')
		}
		b = append(b, v.name...)
	}
	return string(b)
}

// growFDs returns fds, grown to index fd, if necessary.
func growFDs(fds []fdInfo, fd int) []fdInfo {
	if fd < len(fds) {
		return fds
	}
	// grow in chunks to minimize allocations
	newSize := fd*2 + 1
	if newSize > MaxFDLimit {
		newSize = MaxFDLimit + 1
	}
	newFds := make([]fdInfo, newSize)
	copy(newFds, fds)
	return newFds
}

// activeCallbacks copies the callbacks of all active fds.
func activeCallbacks(fds []fdInfo) (callbacks []IOCallback) {
	for i := range fds {
		if fds[i].active && fds[i].callback != nil {
			callbacks = append(callbacks, fds[i].callback)
		}
	}
	return
}
