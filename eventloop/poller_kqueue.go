//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package eventloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FastPoller manages I/O event registration using kqueue (Darwin/BSD).
//
// Registrations use EV_CLEAR, for both directions, which behaves like an
// edge-triggered epoll registration. Readiness must be tracked by the
// callback, see fdSource.
type FastPoller struct {
	eventBuf  [256]unix.Kevent_t // preallocated
	fds       []fdInfo           // dynamic slice, grows on demand
	fdMu      sync.RWMutex       // protects fds
	kq        int32
	wakeRead  int32 // self-pipe, read end registered with kq
	wakeWrite int32
	closed    atomic.Bool
}

// Init initializes the kqueue instance, and the self-pipe used by Wakeup.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)

	wakeRead, wakeWrite, err := createWakePipe()
	if err != nil {
		_ = unix.Close(kq)
		return err
	}

	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], wakeRead, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, ev[:], nil, nil); err != nil {
		_ = unix.Close(wakeRead)
		_ = unix.Close(wakeWrite)
		_ = unix.Close(kq)
		return err
	}

	p.kq = int32(kq)
	p.wakeRead = int32(wakeRead)
	p.wakeWrite = int32(wakeWrite)
	p.fds = make([]fdInfo, maxFDs)

	return nil
}

// createWakePipe creates a non-blocking, close-on-exec self-pipe.
func createWakePipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return 0, 0, err
		}
	}
	return fds[0], fds[1], nil
}

// Close closes the kqueue instance. Every registered callback receives
// EventClosed.
func (p *FastPoller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.fdMu.Lock()
	callbacks := activeCallbacks(p.fds)
	p.fds = nil
	p.fdMu.Unlock()

	for _, cb := range callbacks {
		cb(EventClosed)
	}

	var err error
	if p.kq > 0 {
		err = unix.Close(int(p.kq))
	}
	if p.wakeRead > 0 {
		_ = unix.Close(int(p.wakeRead))
	}
	if p.wakeWrite > 0 {
		_ = unix.Close(int(p.wakeWrite))
	}
	return err
}

// Wakeup interrupts a concurrent PollIO.
func (p *FastPoller) Wakeup() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	_, err := unix.Write(int(p.wakeWrite), []byte{1})
	if err == unix.EAGAIN {
		// pipe full, a wakeup is already pending
		err = nil
	}
	return err
}

// RegisterFD registers a file descriptor for I/O event monitoring.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= MaxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	p.fds = growFDs(p.fds, fd)
	if p.fds[fd].active {
		return ErrFDAlreadyRegistered
	}

	// hold the lock across Kevent, to prevent a race with UnregisterFD
	if kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR); len(kevents) != 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			return err
		}
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	return nil
}

// UnregisterFD removes a file descriptor from monitoring.
//
// It does not guarantee immediate cessation of in-flight callbacks, which
// are copied under the lock then called outside it. Callbacks must guard
// against accessing released state.
func (p *FastPoller) UnregisterFD(fd int) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if fd >= len(p.fds) || !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	if kevents := eventsToKevents(fd, p.fds[fd].events, unix.EV_DELETE); len(kevents) != 0 {
		_, _ = unix.Kevent(int(p.kq), kevents, nil, nil) // ignore errors on delete
	}

	p.fds[fd] = fdInfo{}
	return nil
}

// ModifyFD updates the events being monitored for a file descriptor.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if fd >= len(p.fds) || !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	oldEvents := p.fds[fd].events
	p.fds[fd].events = events

	if del := oldEvents &^ events; del != 0 {
		_, _ = unix.Kevent(int(p.kq), eventsToKevents(fd, del, unix.EV_DELETE), nil, nil)
	}
	if add := events &^ oldEvents; add != 0 {
		if _, err := unix.Kevent(int(p.kq), eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// ArmFD is a no-op, as EV_CLEAR registrations remain armed.
func (p *FastPoller) ArmFD(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	return nil
}

// PollIO polls for I/O events, dispatching callbacks inline. It returns
// the number of events processed.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		v := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &v
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	return p.dispatchEvents(n), nil
}

func (p *FastPoller) dispatchEvents(n int) (dispatched int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}

		if fd == int(p.wakeRead) {
			p.drainWakePipe()
			continue
		}

		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
			dispatched++
		}
	}
	return
}

func (p *FastPoller) drainWakePipe() {
	var buf [64]byte
	for {
		if _, err := unix.Read(int(p.wakeRead), buf[:]); err != nil {
			return
		}
	}
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags int) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, flags)
		kevents = append(kevents, ev)
	}
	if events&EventWrite != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, flags)
		kevents = append(kevents, ev)
	}
	return kevents
}

// keventToEvents converts a kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 && kev.Filter == unix.EVFILT_WRITE {
		// EOF on the read filter only means the peer stopped writing
		events |= EventHangup
	}
	return events
}
