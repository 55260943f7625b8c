// Package eventloop provides an OS-backed implementation of the reactor
// capabilities: a single-goroutine [Loop] multiplexing tasks, timers, and I/O
// readiness, and a [Reactor] adapting it to reactor.FullReactor.
//
// # I/O Registration
//
// File descriptors (socket handles, on windows) are registered using
// platform-native mechanisms:
//   - Linux: epoll, edge-triggered
//   - Darwin/BSD: kqueue, EV_CLEAR
//   - Windows: WSAPoll, with one-shot interest (see [Loop.ArmFD])
//
// See poller_linux.go, poller_kqueue.go, and poller_windows.go for the
// platform-specific implementations. Other platforms are unsupported, and
// [New] returns [ErrUnsupportedPlatform].
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    return err
//	}
//	go loop.Run(ctx)
//	defer loop.Shutdown(context.Background())
//
//	r, err := eventloop.NewReactor(loop)
//	if err != nil {
//	    return err
//	}
//	conn, err := r.Connect(ctx, netip.MustParseAddrPort("127.0.0.1:8080"))
//
// # Safety
//
// Callbacks registered with [Loop.RegisterFD] run on the loop goroutine, and
// must not block. Always call [Loop.UnregisterFD] before closing a file
// descriptor, to prevent stale event delivery due to FD recycling. Handles
// registered via [Reactor.Register] are managed by their reactor.Adapter.
package eventloop
