package eventloop

import (
	"sync/atomic"
)

// Metrics tracks runtime statistics for the event loop.
// All counters are updated atomically, and may be read from any goroutine.
//
// Example:
//
//	loop, _ := New(WithMetrics(true))
//	go loop.Run(ctx)
//	stats := loop.Metrics()
//	fmt.Printf("polls: %d, events: %d\n", stats.Polls, stats.Events)
type Metrics struct {
	polls       atomic.Uint64
	events      atomic.Uint64
	timersFired atomic.Uint64
	tasks       atomic.Uint64
	panics      atomic.Uint64
	fds         atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	// Polls is the number of calls to the poller.
	Polls uint64
	// Events is the number of I/O events dispatched to callbacks.
	Events uint64
	// TimersFired is the number of timers that have run.
	TimersFired uint64
	// Tasks is the number of submitted tasks that have run.
	Tasks uint64
	// Panics is the number of tasks, timers, or callbacks that panicked.
	Panics uint64
	// RegisteredFDs is the number of currently registered file descriptors.
	RegisteredFDs int64
}

// Snapshot returns a copy of the current values. It is nil-safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Polls:         m.polls.Load(),
		Events:        m.events.Load(),
		TimersFired:   m.timersFired.Load(),
		Tasks:         m.tasks.Load(),
		Panics:        m.panics.Load(),
		RegisteredFDs: m.fds.Load(),
	}
}

func (m *Metrics) recordPoll(events int) {
	if m != nil {
		m.polls.Add(1)
		m.events.Add(uint64(events))
	}
}

func (m *Metrics) recordTimer() {
	if m != nil {
		m.timersFired.Add(1)
	}
}

func (m *Metrics) recordTask() {
	if m != nil {
		m.tasks.Add(1)
	}
}

func (m *Metrics) recordPanic() {
	if m != nil {
		m.panics.Add(1)
	}
}

func (m *Metrics) recordFD(delta int64) {
	if m != nil {
		m.fds.Add(delta)
	}
}

// resetFDs is called once the poller has released every registration.
func (m *Metrics) resetFDs() {
	if m != nil {
		m.fds.Store(0)
	}
}
