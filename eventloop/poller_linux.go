//go:build linux

package eventloop

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FastPoller manages I/O event registration using epoll (Linux).
//
// Registrations are edge-triggered, for both directions, for the lifetime of
// the registration. Readiness must be tracked by the callback, see fdSource.
type FastPoller struct {
	eventBuf [256]unix.EpollEvent // preallocated
	fds      []fdInfo             // dynamic slice, grows on demand
	fdMu     sync.RWMutex         // protects fds
	epfd     int32
	wakeFd   int32 // eventfd, registered level-triggered
	closed   atomic.Bool
}

// Init initializes the epoll instance, and the eventfd used by Wakeup.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return err
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return err
	}

	p.epfd = int32(epfd)
	p.wakeFd = int32(wakeFd)
	p.fds = make([]fdInfo, maxFDs)

	return nil
}

// Close closes the epoll instance. Every registered callback receives
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
	if p.epfd > 0 {
		err = unix.Close(int(p.epfd))
	}
	if p.wakeFd > 0 {
		_ = unix.Close(int(p.wakeFd))
	}
	return err
}

// Wakeup interrupts a concurrent PollIO.
func (p *FastPoller) Wakeup() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(int(p.wakeFd), buf)
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
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
	p.fds = growFDs(p.fds, fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
	if err != nil {
		p.fdMu.Lock()
		if fd < len(p.fds) {
			p.fds[fd] = fdInfo{} // rollback
		}
		p.fdMu.Unlock()
		return err
	}
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
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
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
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.fdMu.Unlock()

	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
}

// ArmFD is a no-op, as edge-triggered registrations remain armed.
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

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
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
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 {
			continue
		}

		if fd == int(p.wakeFd) {
			p.drainWakeFd()
			continue
		}

		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
			dispatched++
		}
	}
	return
}

func (p *FastPoller) drainWakeFd() {
	var buf [8]byte
	for {
		if _, err := unix.Read(int(p.wakeFd), buf[:]); err != nil {
			return
		}
	}
}

// eventsToEpoll converts IOEvents to edge-triggered epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	epollEvents := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
