package eventloop

import (
	"sync"

	"github.com/joeycumines/go-reactor"
)

// fdSource is the reactor.Readiness implementation for a file descriptor
// (or socket handle) registered with a Loop.
//
// Event callbacks record readiness per direction, and call any registered
// wake func. Readiness persists until cleared by the adapter, as the poller
// may report each readiness edge only once.
type fdSource struct {
	loop   *Loop
	err    error
	dirs   [2]fdSourceDirection
	fd     int
	mu     sync.Mutex
	closed bool
}

type fdSourceDirection struct {
	wake    func()
	tick    uint64
	waitSeq uint64
	ready   bool
}

var _ reactor.Readiness = (*fdSource)(nil)

func newFDSource(loop *Loop, fd int) *fdSource {
	return &fdSource{loop: loop, fd: fd}
}

// onEvents is the IOCallback for the registration.
func (s *fdSource) onEvents(events IOEvents) {
	var wakes [2]func()

	s.mu.Lock()
	if events&EventClosed != 0 && s.err == nil {
		s.err = ErrLoopTerminated
	}
	if events&(EventRead|EventError|EventHangup|EventClosed) != 0 {
		wakes[reactor.Read] = s.markReady(reactor.Read)
	}
	if events&(EventWrite|EventError|EventHangup|EventClosed) != 0 {
		wakes[reactor.Write] = s.markReady(reactor.Write)
	}
	s.mu.Unlock()

	for _, wake := range wakes {
		if wake != nil {
			wake()
		}
	}
}

// markReady must be called with mu held. It returns the wake func to
// call, if any.
func (s *fdSource) markReady(d reactor.Direction) (wake func()) {
	v := &s.dirs[d]
	v.tick++
	v.ready = true
	wake, v.wake = v.wake, nil
	return
}

// PollReady implements reactor.Readiness.
func (s *fdSource) PollReady(d reactor.Direction, wake func()) (uint64, bool, func()) {
	s.mu.Lock()
	v := &s.dirs[d]
	if v.ready || s.closed || s.err != nil {
		tick := v.tick
		s.mu.Unlock()
		return tick, true, nil
	}
	v.waitSeq++
	seq := v.waitSeq
	v.wake = wake
	s.mu.Unlock()

	if err := s.loop.ArmFD(s.fd, directionEvents(d)); err != nil {
		// surfaced via Err, the wake is required to unblock the waiter
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		wake = s.markReady(d)
		s.mu.Unlock()
		if wake != nil {
			wake()
		}
	}

	return 0, false, func() {
		s.mu.Lock()
		if v.waitSeq == seq {
			v.wake = nil
		}
		s.mu.Unlock()
	}
}

// ClearReady implements reactor.Readiness.
func (s *fdSource) ClearReady(d reactor.Direction, tick uint64) {
	s.mu.Lock()
	if v := &s.dirs[d]; v.tick == tick {
		v.ready = false
	}
	s.mu.Unlock()
}

// Err implements reactor.Readiness.
func (s *fdSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close deregisters the handle from the loop, waking any waiters.
func (s *fdSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var wakes [2]func()
	for d := range s.dirs {
		wakes[d], s.dirs[d].wake = s.dirs[d].wake, nil
	}
	s.mu.Unlock()

	err := s.loop.UnregisterFD(s.fd)
	if err == ErrPollerClosed {
		// the registration was released with the poller
		err = nil
	}

	for _, wake := range wakes {
		if wake != nil {
			wake()
		}
	}

	return err
}

func directionEvents(d reactor.Direction) IOEvents {
	if d == reactor.Write {
		return EventWrite
	}
	return EventRead
}
