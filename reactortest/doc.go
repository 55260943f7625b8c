// Package reactortest provides a simulated reactor.FullReactor, for
// deterministic tests of code built on reactor.Adapter.
//
// Readiness is driven explicitly, via [Source.SetReady], and is independent
// of the paired [Script]. This allows every interleaving of notifications
// and handle state to be reproduced, including stale notifications, where a
// direction is reported ready but the operation would still block.
//
//	r := reactortest.NewReactor()
//	s := reactortest.NewScript(1)
//	a, _ := r.Register(reactor.NewIOHandle(s))
//	s.PushRead([]byte("hello"))
//	r.Source(a.Handle()).SetReady(reactor.Read)
//	n, err := a.Read(ctx, buf)
package reactortest
