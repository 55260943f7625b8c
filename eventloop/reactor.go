package eventloop

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/singleflight"
)

// Reactor implements reactor.FullReactor, using a Loop for readiness
// notifications and timers.
type Reactor struct {
	loop        *Loop
	logger      *logiface.Logger[logiface.Event]
	resolver    *net.Resolver
	adapterOpts []reactor.AdapterOption
	lookups     singleflight.Group
}

var _ reactor.FullReactor = (*Reactor)(nil)

// NewReactor creates a Reactor backed by loop, which must be running (or
// about to run) for operations to make progress.
func NewReactor(loop *Loop, opts ...ReactorOption) (*Reactor, error) {
	if loop == nil {
		panic("eventloop: nil loop")
	}
	cfg, err := resolveReactorOptions(opts)
	if err != nil {
		return nil, err
	}
	adapterOpts := make([]reactor.AdapterOption, 0, len(cfg.adapterOpts)+1)
	if cfg.logger != nil {
		adapterOpts = append(adapterOpts, reactor.WithLogger(cfg.logger))
	}
	adapterOpts = append(adapterOpts, cfg.adapterOpts...)
	return &Reactor{
		loop:        loop,
		logger:      cfg.logger,
		resolver:    cfg.resolver,
		adapterOpts: adapterOpts,
	}, nil
}

// Loop returns the underlying loop.
func (r *Reactor) Loop() *Loop { return r.loop }

// Register puts h into non-blocking mode, and registers it with the loop,
// for both directions. On failure, the error is a *reactor.RegisterError,
// and h is left open. On unix, the previous blocking mode is also restored.
// Windows can't query the mode of a socket, so it is left non-blocking.
func (r *Reactor) Register(h *reactor.IOHandle) (*reactor.Adapter, error) {
	handle := h.PlatformHandle()

	restore, err := setNonblock(handle)
	if err != nil {
		return nil, &reactor.RegisterError{Cause: err, Handle: handle}
	}

	src := newFDSource(r.loop, int(handle))
	if err := r.loop.RegisterFD(int(handle), EventRead|EventWrite, src.onEvents); err != nil {
		r.logger.Debug().
			Uint64(`handle`, uint64(handle)).
			Err(err).
			Log(`eventloop: register failed`)
		restore()
		return nil, &reactor.RegisterError{Cause: err, Handle: handle}
	}

	a, err := reactor.NewAdapter(h, src, r.adapterOpts...)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return a, nil
}

// Connect establishes a TCP connection to addr. It waits for the socket to
// become writable, then checks the outcome, which is returned as-is (e.g.
// ECONNREFUSED). The connection is never retried.
func (r *Reactor) Connect(ctx context.Context, addr netip.AddrPort) (*reactor.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := startConnect(addr)
	if err != nil {
		return nil, err
	}

	a, err := r.Register(h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	if _, err := a.WriteWith(ctx, func(h *reactor.IOHandle) (int, error) {
		return 0, connectResult(h)
	}); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		r.logger.Debug().
			Str(`addr`, addr.String()).
			Err(err).
			Log(`eventloop: connect failed`)
		return nil, err
	}

	return a, nil
}

// Sleep blocks for at least d, using a loop timer, or until ctx is done.
// If the loop terminates first, ErrLoopTerminated is returned.
func (r *Reactor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	done := make(chan struct{})
	id, err := r.loop.ScheduleTimer(d, func() { close(done) })
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = r.loop.CancelTimer(id)
		return ctx.Err()
	case <-r.loop.Done():
		select {
		case <-done:
			return nil
		default:
		}
		return ErrLoopTerminated
	}
}

// Interval returns a ticker driven by loop timers. It panics if d is not
// positive. The ticker stops when the loop terminates.
func (r *Reactor) Interval(d time.Duration) reactor.Ticker {
	if d <= 0 {
		panic("eventloop: non-positive interval")
	}
	t := &ticker{
		loop: r.loop,
		c:    make(chan time.Time, 1),
		done: make(chan struct{}),
		d:    d,
		next: time.Now().Add(d),
	}
	t.mu.Lock()
	t.schedule()
	t.mu.Unlock()
	go t.watch()
	return t
}

func netInterfaceIndex(zone string) (int, error) {
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return ifi.Index, nil
	}
	return strconv.Atoi(zone)
}
