package reactortest

import (
	"sync"
	"time"
)

// ticker implements reactor.Ticker on a Clock, with deadlines fixed at
// start+k*d. A deadline delivers a tick only if the previous one has been
// received.
type ticker struct {
	next    time.Time
	clock   *Clock
	stop    func() bool
	c       chan time.Time
	done    chan struct{}
	d       time.Duration
	mu      sync.Mutex
	stopped bool
}

func (t *ticker) C() <-chan time.Time { return t.c }

func (t *ticker) Done() <-chan struct{} { return t.done }

func (t *ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)
	if t.stop != nil {
		t.stop()
	}
}

// schedule must be called with mu held.
func (t *ticker) schedule() {
	if t.stopped {
		return
	}
	t.stop = t.clock.AfterFunc(t.next.Sub(t.clock.Now()), t.fire)
}

func (t *ticker) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	now := t.clock.Now()
	select {
	case t.c <- now:
	default:
	}

	t.next = t.next.Add(t.d)
	if !t.next.After(now) {
		t.next = t.next.Add((now.Sub(t.next)/t.d + 1) * t.d)
	}

	t.schedule()
}
