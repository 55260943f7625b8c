package eventloop

import (
	"context"
	"iter"
	"net"
	"net/netip"

	"github.com/joeycumines/go-reactor"
)

// Resolve resolves hostport, of the form "host:port", to TCP addresses.
// Concurrent lookups of the same host share a single query. Lookup errors
// are returned as-is, and reactor.ErrNoAddresses if there are no
// addresses.
func (r *Reactor) Resolve(ctx context.Context, hostport string) (iter.Seq[netip.AddrPort], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host, service, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}

	port, err := r.resolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		return nil, err
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return reactor.Addrs([]netip.AddrPort{netip.AddrPortFrom(ip.Unmap(), uint16(port))}), nil
	}

	// the shared lookup must not be cancelled by any one caller
	ch := r.lookups.DoChan(host, func() (any, error) {
		return r.resolver.LookupNetIP(context.WithoutCancel(ctx), "ip", host)
	})

	var ips []netip.Addr
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		ips = res.Val.([]netip.Addr)
		if res.Shared {
			r.logger.Trace().
				Str(`host`, host).
				Log(`eventloop: shared lookup`)
		}
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
