//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd && !windows

package eventloop

// FastPoller is unavailable on this platform: Init always fails with
// ErrUnsupportedPlatform.
type FastPoller struct{}

func (p *FastPoller) Init() error { return ErrUnsupportedPlatform }
func (p *FastPoller) Close() error { return nil }
func (p *FastPoller) Wakeup() error { return ErrPollerClosed }
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error { return ErrPollerClosed }
func (p *FastPoller) UnregisterFD(fd int) error { return ErrPollerClosed }
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error { return ErrPollerClosed }
func (p *FastPoller) ArmFD(fd int, events IOEvents) error { return ErrPollerClosed }
func (p *FastPoller) PollIO(timeoutMs int) (int, error) { return 0, ErrPollerClosed }
