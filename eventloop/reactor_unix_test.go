//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package eventloop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T, opts ...ReactorOption) *Reactor {
	t.Helper()
	r, err := NewReactor(startLoop(t, WithMetrics(true)), opts...)
	require.NoError(t, err)
	return r
}

// testSocketPair registers both ends of a unix socket pair.
func testSocketPair(t *testing.T, r *Reactor) (a, b *reactor.Adapter) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	register := func(fd int) *reactor.Adapter {
		a, err := r.Register(reactor.NewIOHandle(reactor.NewFD(fd)))
		if err != nil {
			_ = unix.Close(fd)
		}
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(context.Background()) })
		return a
	}
	return register(fds[0]), register(fds[1])
}

func TestReactor_RoundTrip(t *testing.T) {
	r := newTestReactor(t)
	a, b := testSocketPair(t, r)
	ctx := context.Background()

	n, err := a.Write(ctx, []byte(`hello`))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = b.ReadFull(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, `hello`, string(buf[:n]))

	assert.Equal(t, int64(2), r.Loop().Metrics().RegisteredFDs)
}

func TestReactor_LargeTransfer(t *testing.T) {
	r := newTestReactor(t)
	a, b := testSocketPair(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// larger than the socket buffers, so writes must wait for the reader
	payload := bytes.Repeat([]byte(`0123456789abcdef`), 1<<16)

	writeErr := make(chan error, 1)
	go func() {
		_, err := a.WriteAll(ctx, payload)
		writeErr <- err
	}()

	got := make([]byte, len(payload))
	_, err := b.ReadFull(ctx, got)
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	assert.True(t, bytes.Equal(payload, got))

	assert.NotZero(t, a.Stats().Write.Attempts)
	assert.NotZero(t, b.Stats().Read.Attempts)
}

func TestReactor_ReadCancelThenRead(t *testing.T) {
	r := newTestReactor(t)
	a, b := testSocketPair(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := b.Read(ctx, make([]byte, 8))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)
	assert.Equal(t, reactor.StateIdle, b.State(reactor.Read))

	_, err = a.WriteString(context.Background(), `ping`)
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buf := make([]byte, 8)
	n, err = b.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, `ping`, string(buf[:n]))
}

func TestReactor_EOF(t *testing.T) {
	r := newTestReactor(t)
	a, b := testSocketPair(t, r)

	require.NoError(t, a.Close(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := b.Read(ctx, make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestReactor_Bind(t *testing.T) {
	r := newTestReactor(t)
	a, b := testSocketPair(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		w := a.Bind(ctx)
		_, _ = io.WriteString(w, `some data`)
		_ = w.Close()
	}()

	got, err := io.ReadAll(b.Bind(ctx))
	require.NoError(t, err)
	assert.Equal(t, `some data`, string(got))
}

func TestReactor_Register_ClosedFD(t *testing.T) {
	r := newTestReactor(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Close(fds[0]))
	defer unix.Close(fds[1])

	a, err := r.Register(reactor.NewIOHandle(reactor.NewFD(fds[0])))
	assert.Nil(t, a)
	var target *reactor.RegisterError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, uintptr(fds[0]), target.Handle)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestReactor_Connect(t *testing.T) {
	r := newTestReactor(t)

	ln, err := net.Listen(`tcp`, `127.0.0.1:0`)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := r.Connect(ctx, netip.MustParseAddrPort(ln.Addr().String()))
	require.NoError(t, err)
	defer a.Close(context.Background())

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-ctx.Done():
		t.Fatal("not accepted")
	}
	defer conn.Close()

	_, err = a.WriteString(ctx, `hello`)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, `hello`, string(buf))

	_, err = conn.Write([]byte(`world`))
	require.NoError(t, err)
	_, err = a.ReadFull(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, `world`, string(buf))
}

func TestReactor_Connect_Refused(t *testing.T) {
	r := newTestReactor(t)

	// reserve then release a port, which is then (very likely) closed
	ln, err := net.Listen(`tcp`, `127.0.0.1:0`)
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := r.Connect(ctx, addr)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
}

func TestReactor_Connect_Cancelled(t *testing.T) {
	r := newTestReactor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, err := r.Connect(ctx, netip.MustParseAddrPort(`127.0.0.1:1`))
	assert.Nil(t, a)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReactor_LoopTerminated(t *testing.T) {
	r := newTestReactor(t)
	_, b := testSocketPair(t, r)

	readErr := make(chan error, 1)
	go func() {
		_, err := b.Read(context.Background(), make([]byte, 8))
		readErr <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for b.State(reactor.Read) != reactor.StateAwaiting {
		if time.Now().After(deadline) {
			t.Fatal("read didn't suspend")
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, r.Loop().Shutdown(context.Background()))

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, ErrLoopTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("read wasn't woken")
	}

	_, err := b.Write(context.Background(), []byte(`x`))
	assert.ErrorIs(t, err, ErrLoopTerminated)
	assert.NoError(t, b.Close(context.Background()))

	// registrations were released with the poller
	assert.Zero(t, r.Loop().Metrics().RegisteredFDs)
}

func TestReactor_Sleep_LoopTerminated(t *testing.T) {
	r := newTestReactor(t)

	sleepErr := make(chan error, 1)
	go func() { sleepErr <- r.Sleep(context.Background(), time.Hour) }()

	// wait for the timer to be scheduled
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.Loop().timerMu.Lock()
		n := len(r.Loop().timers)
		r.Loop().timerMu.Unlock()
		if n != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timer not scheduled")
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, r.Loop().Shutdown(context.Background()))

	select {
	case err := <-sleepErr:
		assert.ErrorIs(t, err, ErrLoopTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("sleep wasn't woken")
	}

	assert.ErrorIs(t, r.Sleep(context.Background(), time.Second), ErrLoopTerminated)
}

func TestReactor_Interval_LoopTerminated(t *testing.T) {
	r := newTestReactor(t)
	tk := r.Interval(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range reactor.Ticks(context.Background(), tk) {
			t.Error("unexpected tick")
		}
	}()

	require.NoError(t, r.Loop().Shutdown(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration didn't end")
	}

	// created after termination
	tk = r.Interval(time.Second)
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("ticker not done")
	}
}

func TestReactor_AdapterClose_WakesPending(t *testing.T) {
	r := newTestReactor(t)
	_, b := testSocketPair(t, r)

	readErr := make(chan error, 1)
	go func() {
		_, err := b.Read(context.Background(), make([]byte, 8))
		readErr <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for b.State(reactor.Read) != reactor.StateAwaiting {
		if time.Now().After(deadline) {
			t.Fatal("read didn't suspend")
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, b.Close(context.Background()))

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, reactor.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("read wasn't woken")
	}
	assert.Equal(t, int64(1), r.Loop().Metrics().RegisteredFDs)
}

func TestReactor_Sleep(t *testing.T) {
	r := newTestReactor(t)

	const d = 25 * time.Millisecond
	start := time.Now()
	require.NoError(t, r.Sleep(context.Background(), d))
	assert.GreaterOrEqual(t, time.Since(start), d)

	require.NoError(t, r.Sleep(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Sleep(ctx, time.Hour), context.DeadlineExceeded)
}

func TestReactor_Interval(t *testing.T) {
	r := newTestReactor(t)

	const d = 10 * time.Millisecond
	start := time.Now()
	tk := r.Interval(d)
	defer tk.Stop()

	var count int
	for v := range reactor.Ticks(context.Background(), tk) {
		count++
		assert.GreaterOrEqual(t, v.Sub(start), time.Duration(count)*d)
		if count == 3 {
			break
		}
	}
	assert.GreaterOrEqual(t, time.Since(start), 3*d)
}

func TestReactor_Interval_SkipsMissed(t *testing.T) {
	r := newTestReactor(t)

	const d = 5 * time.Millisecond
	tk := r.Interval(d)
	defer tk.Stop()

	// several deadlines pass, but only one tick may be pending
	time.Sleep(10 * d)
	select {
	case <-tk.C():
	case <-time.After(5 * time.Second):
		t.Fatal("no tick")
	}
	select {
	case <-tk.C():
		t.Fatal("ticks burst")
	default:
	}

	select {
	case <-tk.C():
	case <-time.After(5 * time.Second):
		t.Fatal("ticker stalled")
	}

	tk.Stop()
	tk.Stop()
	select {
	case <-tk.C():
	default:
	}
	select {
	case <-tk.C():
		t.Fatal("tick after stop")
	case <-time.After(5 * d):
	}
}

func TestReactor_Interval_NonPositive(t *testing.T) {
	r := newTestReactor(t)
	assert.Panics(t, func() { r.Interval(0) })
}

func TestReactor_Resolve_Literal(t *testing.T) {
	r := newTestReactor(t)

	seq, err := r.Resolve(context.Background(), `127.0.0.1:80`)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort(`127.0.0.1:80`)}, slices.Collect(seq))
	// single-use
	assert.Empty(t, slices.Collect(seq))

	seq, err = r.Resolve(context.Background(), `[::1]:443`)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort(`[::1]:443`)}, slices.Collect(seq))
}

func TestReactor_Resolve_Invalid(t *testing.T) {
	r := newTestReactor(t)

	_, err := r.Resolve(context.Background(), `no-port`)
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), `127.0.0.1:not-a-service-name`)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, `localhost:80`)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReactor_Resolve_Localhost(t *testing.T) {
	r := newTestReactor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seq, err := r.Resolve(ctx, `localhost:8080`)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			t.Skipf("localhost unavailable: %v", err)
		}
		require.NoError(t, err)
	}

	addrs := slices.Collect(seq)
	require.NotEmpty(t, addrs)
	for _, addr := range addrs {
		assert.True(t, addr.Addr().IsLoopback(), addr.String())
		assert.Equal(t, uint16(8080), addr.Port())
	}
}

func TestNewReactor_NilLoop(t *testing.T) {
	assert.Panics(t, func() { _, _ = NewReactor(nil) })
}
