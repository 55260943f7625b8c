package eventloop

import (
	"sync"
	"time"
)

// ticker implements reactor.Ticker using loop timers.
//
// Deadlines are fixed at start+k*d. Each deadline delivers a tick only if
// the previous one has been received, and deadlines that passed while the
// loop was busy are skipped, so ticks never burst.
type ticker struct {
	next    time.Time
	loop    *Loop
	c       chan time.Time
	done    chan struct{}
	d       time.Duration
	id      TimerID
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
	t.stopLocked()
	_ = t.loop.CancelTimer(t.id)
}

// stopLocked must be called with mu held.
func (t *ticker) stopLocked() {
	t.stopped = true
	close(t.done)
}

// watch stops the ticker once the loop terminates, as its pending timer is
// discarded.
func (t *ticker) watch() {
	select {
	case <-t.loop.Done():
		t.Stop()
	case <-t.done:
	}
}

// schedule must be called with mu held.
func (t *ticker) schedule() {
	if t.stopped {
		return
	}
	id, err := t.loop.ScheduleTimer(time.Until(t.next), t.fire)
	if err != nil {
		// loop terminated, there will be no further ticks
		t.stopLocked()
		return
	}
	t.id = id
}

func (t *ticker) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	now := time.Now()
	select {
	case t.c <- now:
	default:
		// consumer still holds the previous tick
	}

	t.next = t.next.Add(t.d)
	if !t.next.After(now) {
		missed := now.Sub(t.next)/t.d + 1
		t.next = t.next.Add(missed * t.d)
	}

	t.schedule()
}
