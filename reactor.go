package reactor

import (
	"context"
	"iter"
	"net/netip"
	"sync/atomic"
	"time"
)

type (
	// Reactor registers synchronous handles, returning asynchronous ones.
	Reactor interface {
		// Register takes ownership of h, on success. On failure, a
		// *RegisterError is returned, and the caller retains ownership of h.
		Register(h *IOHandle) (*Adapter, error)
	}

	// TimeReactor provides timers.
	TimeReactor interface {
		// Sleep blocks for at least d, or until ctx is done, in which case
		// ctx.Err() is returned.
		Sleep(ctx context.Context, d time.Duration) error

		// Interval returns a [Ticker] that delivers a tick every d, the first
		// tick after d. Ticks that cannot be delivered, because the consumer
		// has not received the previous one, are skipped.
		Interval(d time.Duration) Ticker
	}

	// TCPReactor connects TCP streams.
	TCPReactor interface {
		// Connect blocks until connected, or until ctx is done. OS-level
		// errors are returned as-is, and the connection is never retried.
		Connect(ctx context.Context, addr netip.AddrPort) (*Adapter, error)
	}

	// Resolver resolves names.
	Resolver interface {
		// Resolve looks up hostport, which must be of the form "host:port".
		// The returned sequence is finite and single-use. If the name
		// resolves to no addresses, ErrNoAddresses is returned.
		Resolve(ctx context.Context, hostport string) (iter.Seq[netip.AddrPort], error)
	}

	// FullReactor implements every capability.
	FullReactor interface {
		Reactor
		TimeReactor
		TCPReactor
		Resolver
	}

	// Ticker is an infinite sequence of ticks, see [TimeReactor.Interval].
	// A stopped Ticker cannot be restarted.
	Ticker interface {
		// C returns the channel on which ticks are delivered. It is never
		// closed.
		C() <-chan time.Time

		// Done returns a channel that is closed once no further ticks will
		// be delivered, either because Stop was called, or because the
		// reactor can no longer deliver them.
		Done() <-chan struct{}

		// Stop prevents any further ticks. It is safe to call more than once.
		Stop()
	}
)

// Ticks adapts t to a sequence, which ends when ctx is done, or t is done.
// The ticker is stopped when the iteration ends.
func Ticks(ctx context.Context, t Ticker) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Done():
				return
			case v := <-t.C():
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Addrs returns a finite, single-use sequence over addrs. The second and
// subsequent iterations yield nothing. It is intended for use by [Resolver]
// implementations.
func Addrs(addrs []netip.AddrPort) iter.Seq[netip.AddrPort] {
	var used atomic.Bool
	return func(yield func(netip.AddrPort) bool) {
		if used.Swap(true) {
			return
		}
		for _, addr := range addrs {
			if !yield(addr) {
				return
			}
		}
	}
}
