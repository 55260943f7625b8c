package eventloop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

// Loop is a single-goroutine event loop, multiplexing submitted tasks,
// timers, and I/O readiness callbacks.
//
// Each iteration (tick) runs expired timers, then a budget of submitted
// tasks, then polls for I/O, blocking until the next timer is due or the
// loop is woken. I/O callbacks are dispatched inline, from the poll.
type Loop struct {
	// Prevent copying
	_ [0]func()

	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics

	// external tasks, FIFO, see Submit
	tasks   *queue.Queue
	tasksMu sync.Mutex

	timers     timerHeap
	timerIndex map[TimerID]*timer
	timerSeq   TimerID
	timerMu    sync.Mutex

	// Loop termination signaling
	loopDone chan struct{}
	doneOnce sync.Once

	// I/O poller, also provides the wake-up mechanism
	poller FastPoller

	// In-flight submit counter for shutdown synchronization
	inflight atomic.Int64

	// Wake-up deduplication
	wakePending atomic.Uint32

	state fastState

	id uint64
}

// TimerID identifies a timer scheduled with Loop.ScheduleTimer.
type TimerID uint64

// timer represents a scheduled task
type timer struct {
	when  time.Time
	fn    func()
	id    TimerID
	index int
}

// timerHeap is a min-heap of timers, ordered by deadline, then by id
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	x.index = -1
	return x
}

var loopIDCounter atomic.Uint64

// New creates a new event loop. It must be started with Run, and released
// with Shutdown or Close.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	loop := &Loop{
		id:         loopIDCounter.Add(1),
		logger:     cfg.logger,
		tasks:      queue.New(),
		timerIndex: make(map[TimerID]*timer),
		loopDone:   make(chan struct{}),
	}
	if cfg.metricsEnabled {
		loop.metrics = &Metrics{}
	}

	if err := loop.poller.Init(); err != nil {
		return nil, err
	}

	return loop, nil
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown(), Close(), or ctx cancellation).
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if s := l.state.Load(); s == StateTerminated || s == StateTerminating {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	// Close loopDone when run exits to signal completion to Shutdown waiters
	defer l.markDone()

	l.logger.Debug().
		Uint64(`loop`, l.id).
		Log(`eventloop: running`)

	return l.run(ctx)
}

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// Shutdown gracefully shuts down the event loop, running any tasks already
// submitted. It blocks until termination completes, or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.terminate()
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the event loop, without waiting for it to stop.
func (l *Loop) Close() error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	l.terminate()
	return nil
}

// terminate requests termination. If the loop was never started, the
// shutdown sequence is performed inline.
func (l *Loop) terminate() {
	for {
		currentState := l.state.Load()
		if currentState == StateTerminated || currentState == StateTerminating {
			return
		}

		if l.state.TryTransition(currentState, StateTerminating) {
			switch currentState {
			case StateAwake:
				l.shutdown()
				l.markDone()
			case StateSleeping:
				_ = l.poller.Wakeup()
			}
			return
		}
	}
}

func (l *Loop) markDone() {
	l.doneOnce.Do(func() { close(l.loopDone) })
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	// Start context watcher goroutine to wake loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.terminate()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		if s := l.state.Load(); s == StateTerminating || s == StateTerminated {
			l.shutdown()
			return ctx.Err()
		}

		l.tick()
	}
}

// shutdown performs the shutdown sequence.
func (l *Loop) shutdown() {
	// Set state to Terminated FIRST to prevent new tasks from being accepted.
	// Any Submit that checked state before this will push a task, and we'll catch it
	// in the drain below.
	l.state.Store(StateTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3 // Need multiple consecutive empty checks
	for emptyChecks < requiredEmptyChecks {
		for l.inflight.Load() > 0 {
			runtime.Gosched()
		}

		if l.runTasks(-1) != 0 || l.inflight.Load() > 0 {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.timerMu.Lock()
	l.timers = nil
	clear(l.timerIndex)
	l.timerMu.Unlock()

	// delivers EventClosed to remaining registrations
	if err := l.poller.Close(); err != nil {
		l.logger.Warning().
			Uint64(`loop`, l.id).
			Err(err).
			Log(`eventloop: failed to close poller`)
	}
	l.metrics.resetFDs()

	l.logger.Debug().
		Uint64(`loop`, l.id).
		Log(`eventloop: terminated`)
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.runTimers()

	const budget = 1024
	l.runTasks(budget)

	l.poll()
}

// runTasks runs up to budget submitted tasks, or all of them if budget is
// negative, returning the number run.
func (l *Loop) runTasks(budget int) (n int) {
	for budget < 0 || n < budget {
		l.tasksMu.Lock()
		if l.tasks.Length() == 0 {
			l.tasksMu.Unlock()
			return
		}
		fn := l.tasks.Remove().(func())
		l.tasksMu.Unlock()

		l.safeExecute(fn)
		l.metrics.recordTask()
		n++
	}
	return
}

func (l *Loop) hasTasks() bool {
	l.tasksMu.Lock()
	defer l.tasksMu.Unlock()
	return l.tasks.Length() != 0
}

// poll performs the blocking poll.
func (l *Loop) poll() {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	// Submit pushes before checking for StateSleeping
	if l.hasTasks() {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	n, err := l.poller.PollIO(l.calculateTimeout())
	l.wakePending.Store(0)
	l.metrics.recordPoll(n)

	if err != nil {
		l.logger.Crit().
			Uint64(`loop`, l.id).
			Err(err).
			Log(`eventloop: poll failed, terminating loop`)
		l.state.TryTransition(StateSleeping, StateTerminating)
		return
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// wake interrupts the poll, if the loop is sleeping.
func (l *Loop) wake() {
	if l.state.Load() != StateSleeping {
		return
	}
	if l.wakePending.CompareAndSwap(0, 1) {
		if err := l.poller.Wakeup(); err != nil {
			// expected during shutdown, the loop will wake via other means
			l.wakePending.Store(0)
		}
	}
}

// Submit submits a task, to be run on the loop goroutine, in FIFO order.
//
// Tasks submitted while the loop is terminating are still run. Once the
// loop has terminated, ErrLoopTerminated is returned.
func (l *Loop) Submit(fn func()) error {
	// Increment inflight counter FIRST, before checking state
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}

	l.tasksMu.Lock()
	l.tasks.Add(fn)
	l.tasksMu.Unlock()

	l.wake()

	return nil
}

// ScheduleTimer schedules fn to be run on the loop goroutine, no earlier
// than delay from now. Timers with the same deadline run in the order they
// were scheduled.
//
// Timers are refused once termination has begun, as pending timers are
// discarded on shutdown.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if s := l.state.Load(); s == StateTerminating || s == StateTerminated {
		return 0, ErrLoopTerminated
	}

	// monotonic, relative to the actual time of scheduling
	when := time.Now().Add(delay)

	l.timerMu.Lock()
	l.timerSeq++
	t := &timer{when: when, fn: fn, id: l.timerSeq}
	heap.Push(&l.timers, t)
	l.timerIndex[t.id] = t
	first := l.timers[0] == t
	l.timerMu.Unlock()

	if first {
		l.wake()
	}

	return t.id, nil
}

// CancelTimer cancels a timer, returning ErrTimerNotFound if it has
// already fired, or was already cancelled.
func (l *Loop) CancelTimer(id TimerID) error {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	t, ok := l.timerIndex[id]
	if !ok {
		return ErrTimerNotFound
	}
	delete(l.timerIndex, id)
	heap.Remove(&l.timers, t.index)
	return nil
}

// runTimers executes all expired timers.
func (l *Loop) runTimers() {
	now := time.Now()
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.timerMu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*timer)
		delete(l.timerIndex, t.id)
		l.timerMu.Unlock()

		l.safeExecute(t.fn)
		l.metrics.recordTimer()
	}
}

// calculateTimeout determines how long to block in poll, in milliseconds.
func (l *Loop) calculateTimeout() int {
	maxDelay := 10 * time.Second

	// Cap by next timer
	l.timerMu.Lock()
	if len(l.timers) > 0 {
		delay := time.Until(l.timers[0].when)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}
	l.timerMu.Unlock()

	// Ceiling rounding, so that the poll never returns before the deadline
	return int((maxDelay + time.Millisecond - 1) / time.Millisecond)
}

// RegisterFD registers a file descriptor for I/O monitoring. The callback
// is called on the loop goroutine.
func (l *Loop) RegisterFD(fd int, events IOEvents, callback IOCallback) error {
	if err := l.poller.RegisterFD(fd, events, func(events IOEvents) {
		defer func() {
			if r := recover(); r != nil {
				l.logPanic(r)
			}
		}()
		callback(events)
	}); err != nil {
		return err
	}
	l.metrics.recordFD(1)
	return nil
}

// UnregisterFD removes a file descriptor from monitoring.
func (l *Loop) UnregisterFD(fd int) error {
	if err := l.poller.UnregisterFD(fd); err != nil {
		return err
	}
	l.metrics.recordFD(-1)
	return nil
}

// ModifyFD updates the events being monitored for a file descriptor.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// ArmFD requests the next notification for events, on a registered file
// descriptor. Pollers that deliver every readiness edge (epoll, kqueue)
// ignore it. Pollers with one-shot interest (WSAPoll) require it before
// each wait.
func (l *Loop) ArmFD(fd int, events IOEvents) error {
	return l.poller.ArmFD(fd, events)
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Metrics returns a snapshot of the loop's metrics, which are zero unless
// enabled with WithMetrics.
func (l *Loop) Metrics() MetricsSnapshot {
	return l.metrics.Snapshot()
}

// safeExecute executes a function with panic recovery.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logPanic(r)
		}
	}()

	fn()
}

func (l *Loop) logPanic(r any) {
	l.metrics.recordPanic()
	l.logger.Err().
		Uint64(`loop`, l.id).
		Err(PanicError{Value: r}).
		Limit().
		Log(`eventloop: recovered panic`)
}
