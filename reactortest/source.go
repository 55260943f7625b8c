package reactortest

import (
	"sync"

	"github.com/joeycumines/go-reactor"
)

// Source is a manually driven reactor.Readiness. Readiness is only ever
// changed by SetReady, SetErr, and Close, making it possible to simulate
// stale (spurious) notifications, by calling SetReady without making the
// paired IO ready.
//
// A closed Source reports every direction as ready, so that waiters attempt
// the operation, and observe the closure.
type Source struct {
	err    error
	dirs   [2]sourceDirection
	mu     sync.Mutex
	closed bool
}

type sourceDirection struct {
	wake     func()
	tick     uint64
	waitSeq  uint64
	polls    int
	confirms int
	clears   int
	ready    bool
}

var _ reactor.Readiness = (*Source)(nil)

// NewSource returns a Source with both directions not ready.
func NewSource() *Source { return &Source{} }

// SetReady records a new readiness event for d, waking any waiter.
func (s *Source) SetReady(d reactor.Direction) {
	s.mu.Lock()
	v := &s.dirs[d]
	v.tick++
	v.ready = true
	wake := v.wake
	v.wake = nil
	s.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// SetErr fails the source, see reactor.Readiness.Err. Waiters are woken.
func (s *Source) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	wakes := s.takeWakes()
	s.mu.Unlock()
	callAll(wakes)
}

// Ready reports whether d is currently marked ready.
func (s *Source) Ready(d reactor.Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[d].ready
}

// Waiting reports whether a wake func is registered for d.
func (s *Source) Waiting(d reactor.Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[d].wake != nil
}

// Polls returns the number of PollReady calls for d.
func (s *Source) Polls(d reactor.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[d].polls
}

// Confirms returns the number of PollReady calls for d that reported ready.
func (s *Source) Confirms(d reactor.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[d].confirms
}

// Clears returns the number of ClearReady calls for d that cleared
// readiness. Calls ignored due to a newer event are not counted.
func (s *Source) Clears(d reactor.Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[d].clears
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PollReady implements reactor.Readiness.
func (s *Source) PollReady(d reactor.Direction, wake func()) (uint64, bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &s.dirs[d]
	v.polls++
	if v.ready || s.closed || s.err != nil {
		v.confirms++
		return v.tick, true, nil
	}

	v.waitSeq++
	seq := v.waitSeq
	v.wake = wake
	return 0, false, func() {
		s.mu.Lock()
		if v.waitSeq == seq {
			v.wake = nil
		}
		s.mu.Unlock()
	}
}

// ClearReady implements reactor.Readiness.
func (s *Source) ClearReady(d reactor.Direction, tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := &s.dirs[d]; v.ready && v.tick == tick {
		v.ready = false
		v.clears++
	}
}

// Err implements reactor.Readiness.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements reactor.Readiness.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	wakes := s.takeWakes()
	s.mu.Unlock()
	callAll(wakes)
	return nil
}

func (s *Source) takeWakes() (wakes [2]func()) {
	for d := range s.dirs {
		wakes[d], s.dirs[d].wake = s.dirs[d].wake, nil
	}
	return
}

func callAll(fns [2]func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}
