//go:build windows

package eventloop

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// maxPollInterval bounds each WSAPoll call, so that interest armed
// concurrently (see ArmFD) is picked up, without a wake socket.
const maxPollInterval = 10 * time.Millisecond

const (
	pollRDNORM = 0x0100
	pollWRNORM = 0x0010
	pollERR    = 0x0001
	pollHUP    = 0x0002
	pollNVAL   = 0x0004
)

var (
	ws2dll      = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAPoll = ws2dll.NewProc("WSAPoll")
)

// wsaPollFD mirrors WSAPOLLFD.
type wsaPollFD struct {
	fd      windows.Handle
	events  int16
	revents int16
}

// winFD is a registration, with its one-shot interest.
type winFD struct {
	fdInfo
	armed IOEvents
}

// FastPoller manages I/O event registration using WSAPoll (Windows).
//
// WSAPoll is level-triggered, so interest is one-shot: each direction is
// polled only after ArmFD, until the next event for that direction.
type FastPoller struct {
	fds     map[int]*winFD
	pollBuf []wsaPollFD
	wake    chan struct{}
	fdMu    sync.Mutex // protects fds
	closed  atomic.Bool
}

// Init prepares the poller, and checks WSAPoll is available.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if err := procWSAPoll.Find(); err != nil {
		return err
	}
	p.fds = make(map[int]*winFD)
	p.wake = make(chan struct{}, 1)
	return nil
}

// Close releases the poller. Every registered callback receives
// EventClosed.
func (p *FastPoller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.fdMu.Lock()
	var callbacks []IOCallback
	for _, v := range p.fds {
		if v.active && v.callback != nil {
			callbacks = append(callbacks, v.callback)
		}
	}
	p.fds = nil
	p.fdMu.Unlock()

	for _, cb := range callbacks {
		cb(EventClosed)
	}
	return nil
}

// Wakeup interrupts a concurrent PollIO, if it is idle. Otherwise, the
// poll completes within maxPollInterval.
func (p *FastPoller) Wakeup() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// RegisterFD registers a socket handle for I/O event monitoring. No
// interest is armed, see ArmFD.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if v, ok := p.fds[fd]; ok && v.active {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &winFD{fdInfo: fdInfo{callback: cb, events: events, active: true}}
	return nil
}

// UnregisterFD removes a socket handle from monitoring.
func (p *FastPoller) UnregisterFD(fd int) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	return nil
}

// ModifyFD updates the events that may be armed for a socket handle.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	v, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	v.events = events
	v.armed &= events
	return nil
}

// ArmFD arms one-shot interest in events, for a socket handle.
func (p *FastPoller) ArmFD(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	p.fdMu.Lock()
	v, ok := p.fds[fd]
	if ok {
		v.armed |= events & v.events
	}
	p.fdMu.Unlock()

	if !ok {
		return ErrFDNotRegistered
	}
	return p.Wakeup()
}

// PollIO polls for I/O events, dispatching callbacks inline. It returns
// the number of events processed.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	p.fdMu.Lock()
	p.pollBuf = p.pollBuf[:0]
	for fd, v := range p.fds {
		var events int16
		if v.armed&EventRead != 0 {
			events |= pollRDNORM
		}
		if v.armed&EventWrite != 0 {
			events |= pollWRNORM
		}
		if events != 0 {
			p.pollBuf = append(p.pollBuf, wsaPollFD{fd: windows.Handle(fd), events: events})
		}
	}
	p.fdMu.Unlock()

	if len(p.pollBuf) == 0 {
		// WSAPoll rejects an empty set
		if timeoutMs < 0 {
			<-p.wake
			return 0, nil
		}
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-p.wake:
		case <-timer.C:
		}
		return 0, nil
	}

	if timeoutMs < 0 || timeoutMs > int(maxPollInterval/time.Millisecond) {
		timeoutMs = int(maxPollInterval / time.Millisecond)
	}

	r1, _, e := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&p.pollBuf[0])),
		uintptr(len(p.pollBuf)),
		uintptr(timeoutMs),
	)
	if n := int32(r1); n < 0 {
		return 0, e
	} else if n == 0 {
		return 0, nil
	}

	return p.dispatchEvents(), nil
}

func (p *FastPoller) dispatchEvents() (dispatched int) {
	for i := range p.pollBuf {
		pfd := &p.pollBuf[i]
		if pfd.revents == 0 {
			continue
		}

		events := pollToEvents(pfd.revents)
		fd := int(pfd.fd)

		p.fdMu.Lock()
		var info fdInfo
		if v, ok := p.fds[fd]; ok {
			info = v.fdInfo
			if events&(EventError|EventHangup) != 0 {
				v.armed = 0
			} else {
				v.armed &^= events
			}
		}
		p.fdMu.Unlock()

		if info.active && info.callback != nil {
			info.callback(events)
			dispatched++
		}
	}
	return
}

// pollToEvents converts WSAPoll revents to IOEvents.
func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&pollRDNORM != 0 {
		events |= EventRead
	}
	if revents&pollWRNORM != 0 {
		events |= EventWrite
	}
	if revents&(pollERR|pollNVAL) != 0 {
		events |= EventError
	}
	if revents&pollHUP != 0 {
		events |= EventHangup
	}
	return events
}
