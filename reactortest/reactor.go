package reactortest

import (
	"context"
	"iter"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

// Reactor is a simulated reactor.FullReactor. Every registered handle is
// paired with a Source, which the test drives. Timers run on a Clock, and
// Connect and Resolve consult static tables.
type Reactor struct {
	clock       *Clock
	logger      *logiface.Logger[logiface.Event]
	sources     map[uintptr]*Source
	peers       map[netip.AddrPort]Peer
	hosts       map[string][]netip.Addr
	refuse      error
	adapterOpts []reactor.AdapterOption
	mu          sync.Mutex
}

// Peer is the simulated outcome of a Connect to a given address.
type Peer struct {
	// IO is registered as the connection. It must not be shared.
	IO reactor.IO

	// Err, if set, is returned once the connection becomes writable, in
	// the manner of a failed non-blocking connect.
	Err error

	// Delay is the simulated time until the connection becomes writable.
	Delay time.Duration
}

var _ reactor.FullReactor = (*Reactor)(nil)

// NewReactor returns an empty Reactor.
func NewReactor(opts ...Option) *Reactor {
	cfg := resolveOptions(opts)
	adapterOpts := make([]reactor.AdapterOption, 0, len(cfg.adapterOpts)+1)
	if cfg.logger != nil {
		adapterOpts = append(adapterOpts, reactor.WithLogger(cfg.logger))
	}
	adapterOpts = append(adapterOpts, cfg.adapterOpts...)
	return &Reactor{
		clock:       cfg.clock,
		logger:      cfg.logger,
		sources:     make(map[uintptr]*Source),
		peers:       make(map[netip.AddrPort]Peer),
		hosts:       make(map[string][]netip.Addr),
		adapterOpts: adapterOpts,
	}
}

// Clock returns the clock driving Sleep and Interval.
func (r *Reactor) Clock() *Clock { return r.clock }

// RefuseRegister causes subsequent Register calls to fail with err, until
// called again with nil.
func (r *Reactor) RefuseRegister(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refuse = err
}

// Source returns the Source paired with h, or nil if h isn't registered.
func (r *Reactor) Source(h *reactor.IOHandle) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[h.PlatformHandle()]
}

// AddPeer configures the outcome of connecting to addr.
func (r *Reactor) AddPeer(addr netip.AddrPort, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = peer
}

// AddHost configures the addresses name resolves to. Passing no addresses
// causes Resolve to fail with reactor.ErrNoAddresses.
func (r *Reactor) AddHost(name string, addrs ...netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = addrs
}

// Register pairs h with a new Source, keyed by its platform handle, which
// must be unique among registered handles.
func (r *Reactor) Register(h *reactor.IOHandle) (*reactor.Adapter, error) {
	handle := h.PlatformHandle()

	r.mu.Lock()
	if r.refuse != nil {
		err := r.refuse
		r.mu.Unlock()
		return nil, &reactor.RegisterError{Cause: err, Handle: handle}
	}
	if _, ok := r.sources[handle]; ok {
		r.mu.Unlock()
		return nil, &reactor.RegisterError{Cause: syscall.EEXIST, Handle: handle}
	}
	src := &registeredSource{Source: NewSource(), r: r, handle: handle}
	r.sources[handle] = src.Source
	r.mu.Unlock()

	a, err := reactor.NewAdapter(h, src, r.adapterOpts...)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	r.logger.Trace().
		Uint64(`handle`, uint64(handle)).
		Log(`reactortest: registered`)

	return a, nil
}

// Connect registers the IO of the peer configured for addr, waiting for it
// to become writable. Unknown addresses fail with syscall.ECONNREFUSED.
func (r *Reactor) Connect(ctx context.Context, addr netip.AddrPort) (*reactor.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	peer, ok := r.peers[addr]
	delete(r.peers, addr)
	r.mu.Unlock()
	if !ok {
		return nil, syscall.ECONNREFUSED
	}

	a, err := r.Register(reactor.NewIOHandle(peer.IO))
	if err != nil {
		return nil, err
	}

	src := r.Source(a.Handle())
	if peer.Delay > 0 {
		r.clock.AfterFunc(peer.Delay, func() { src.SetReady(reactor.Write) })
	} else {
		src.SetReady(reactor.Write)
	}

	if _, err := a.WriteWith(ctx, func(*reactor.IOHandle) (int, error) {
		return 0, peer.Err
	}); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	return a, nil
}

// Sleep blocks until the clock has advanced by d, or ctx is done.
func (r *Reactor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	stop := r.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}

// Interval returns a Ticker driven by the clock. It panics if d is not
// positive.
func (r *Reactor) Interval(d time.Duration) reactor.Ticker {
	if d <= 0 {
		panic(`reactortest: non-positive interval`)
	}
	t := &ticker{
		clock: r.clock,
		c:     make(chan time.Time, 1),
		done:  make(chan struct{}),
		d:     d,
	}
	t.mu.Lock()
	t.next = r.clock.Now().Add(d)
	t.schedule()
	t.mu.Unlock()
	return t
}

// Resolve resolves hostport using the configured hosts. The port must be
// numeric. Unknown names fail with a *net.DNSError.
func (r *Reactor) Resolve(ctx context.Context, hostport string) (iter.Seq[netip.AddrPort], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host, service, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(service, 10, 16)
	if err != nil {
		return nil, &net.AddrError{Err: `invalid port`, Addr: hostport}
	}

	var ips []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		ips = []netip.Addr{ip}
	} else {
		r.mu.Lock()
		v, ok := r.hosts[host]
		r.mu.Unlock()
		if !ok {
			return nil, &net.DNSError{Err: `no such host`, Name: host, IsNotFound: true}
		}
		ips = v
	}

	if len(ips) == 0 {
		return nil, reactor.ErrNoAddresses
	}

	addrs := make([]netip.AddrPort, len(ips))
	for i, ip := range ips {
		addrs[i] = netip.AddrPortFrom(ip.Unmap(), uint16(port))
	}
	return reactor.Addrs(addrs), nil
}

// registeredSource releases the handle's registration on Close.
type registeredSource struct {
	*Source
	r      *Reactor
	handle uintptr
}

func (x *registeredSource) Close() error {
	x.r.mu.Lock()
	if x.r.sources[x.handle] == x.Source {
		delete(x.r.sources, x.handle)
	}
	x.r.mu.Unlock()
	return x.Source.Close()
}
