package reactor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/reactortest"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdapter struct {
	*reactor.Adapter
	script *reactortest.Script
	src    *reactortest.Source
}

func newTestAdapter(t *testing.T, opts ...reactortest.Option) testAdapter {
	t.Helper()
	r := reactortest.NewReactor(opts...)
	script := reactortest.NewScript(3)
	a, err := r.Register(reactor.NewIOHandle(script))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return testAdapter{Adapter: a, script: script, src: r.Source(a.Handle())}
}

// waitAwaiting waits for an operation in direction d to suspend.
func waitAwaiting(t *testing.T, a testAdapter, d reactor.Direction) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for a.State(d) != reactor.StateAwaiting || !a.src.Waiting(d) {
		if time.Now().After(deadline) {
			t.Fatalf("%s didn't suspend (state %s)", d, a.State(d))
		}
		time.Sleep(time.Millisecond)
	}
}

type result struct {
	err error
	n   int
}

func goRead(ctx context.Context, a testAdapter, p []byte) <-chan result {
	ch := make(chan result, 1)
	go func() {
		n, err := a.Read(ctx, p)
		ch <- result{err: err, n: n}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("operation didn't complete")
		return result{}
	}
}

func TestAdapter_Read_AlreadyReady(t *testing.T) {
	a := newTestAdapter(t)
	a.script.PushRead([]byte(`hello`))
	a.src.SetReady(reactor.Read)

	buf := make([]byte, 16)
	n, err := a.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, `hello`, string(buf[:n]))
	assert.Equal(t, reactor.StateIdle, a.State(reactor.Read))

	if diff := cmp.Diff(reactor.Stats{Read: reactor.DirectionStats{Attempts: 1}}, a.Stats()); diff != `` {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}
}

func TestAdapter_Read_Suspends(t *testing.T) {
	a := newTestAdapter(t)

	buf := make([]byte, 16)
	ch := goRead(context.Background(), a, buf)
	waitAwaiting(t, a, reactor.Read)
	assert.Equal(t, 0, a.script.ReadCalls())

	a.script.PushRead([]byte(`data`))
	a.src.SetReady(reactor.Read)

	res := receive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, `data`, string(buf[:res.n]))
	assert.Equal(t, reactor.StateIdle, a.State(reactor.Read))
	assert.Equal(t, uint64(1), a.Stats().Read.Suspensions)
	assert.Equal(t, uint64(1), a.Stats().Read.Attempts)
}

func TestAdapter_StaleReadiness(t *testing.T) {
	var buf bytes.Buffer
	var bufMu sync.Mutex
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(writerFunc(func(p []byte) (int, error) {
			bufMu.Lock()
			defer bufMu.Unlock()
			return buf.Write(p)
		})), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	a := newTestAdapter(t, reactortest.WithLogger(logger))

	// ready, but the handle would still block
	a.src.SetReady(reactor.Write)

	ch := make(chan result, 1)
	go func() {
		n, err := a.Write(context.Background(), []byte(`payload`))
		ch <- result{err: err, n: n}
	}()

	waitAwaiting(t, a, reactor.Write)
	assert.Equal(t, 1, a.script.WriteCalls())
	assert.Equal(t, 1, a.src.Clears(reactor.Write))
	assert.False(t, a.src.Ready(reactor.Write))

	a.script.PushWrite(-1)
	a.src.SetReady(reactor.Write)

	res := receive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, 7, res.n)
	assert.Equal(t, `payload`, string(a.script.Written()))

	stats := a.Stats().Write
	assert.Equal(t, uint64(2), stats.Attempts)
	assert.Equal(t, uint64(1), stats.StaleRetries)
	assert.Equal(t, uint64(1), stats.Suspensions)
	// every attempt follows a confirmed readiness
	assert.GreaterOrEqual(t, uint64(a.src.Confirms(reactor.Write)), stats.Attempts)

	bufMu.Lock()
	defer bufMu.Unlock()
	assert.Contains(t, buf.String(), `reactor: stale readiness, retrying`)
	assert.Contains(t, buf.String(), `"direction":"write"`)
}

func TestAdapter_CancelThenRead(t *testing.T) {
	a := newTestAdapter(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := goRead(ctx, a, make([]byte, 8))
	waitAwaiting(t, a, reactor.Read)
	cancel()

	res := receive(t, ch)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, 0, res.n)
	assert.Equal(t, reactor.StateIdle, a.State(reactor.Read))
	assert.False(t, a.src.Waiting(reactor.Read))
	assert.Equal(t, 0, a.script.ReadCalls())

	buf := make([]byte, 8)
	ch = goRead(context.Background(), a, buf)
	waitAwaiting(t, a, reactor.Read)
	a.script.PushRead([]byte(`ok`))
	a.src.SetReady(reactor.Read)

	res = receive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, `ok`, string(buf[:res.n]))
}

func TestAdapter_ContextAlreadyDone(t *testing.T) {
	a := newTestAdapter(t)
	a.script.PushRead([]byte(`x`))
	a.src.SetReady(reactor.Read)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Read(ctx, make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.script.ReadCalls())
}

func TestAdapter_Busy(t *testing.T) {
	a := newTestAdapter(t)

	ch := goRead(context.Background(), a, make([]byte, 8))
	waitAwaiting(t, a, reactor.Read)

	_, err := a.Read(context.Background(), make([]byte, 8))
	assert.ErrorIs(t, err, reactor.ErrBusy)

	// directions are independent
	a.script.PushWrite(-1)
	a.src.SetReady(reactor.Write)
	n, err := a.Write(context.Background(), []byte(`abc`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, reactor.StateAwaiting, a.State(reactor.Read))

	a.script.PushRead([]byte(`x`))
	a.src.SetReady(reactor.Read)
	res := receive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.n)
}

func TestAdapter_Close_WakesPending(t *testing.T) {
	a := newTestAdapter(t)

	readCh := goRead(context.Background(), a, make([]byte, 8))
	writeCh := make(chan result, 1)
	go func() {
		n, err := a.Write(context.Background(), []byte(`x`))
		writeCh <- result{err: err, n: n}
	}()
	waitAwaiting(t, a, reactor.Read)
	waitAwaiting(t, a, reactor.Write)

	require.NoError(t, a.Close(context.Background()))

	assert.ErrorIs(t, receive(t, readCh).err, reactor.ErrClosed)
	assert.ErrorIs(t, receive(t, writeCh).err, reactor.ErrClosed)
	assert.True(t, a.src.Closed())
	assert.True(t, a.script.Closed())
	assert.Equal(t, 0, a.script.ReadCalls())
	assert.Equal(t, 0, a.script.WriteCalls())

	_, err := a.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, reactor.ErrClosed)
	assert.ErrorIs(t, a.Flush(context.Background()), reactor.ErrClosed)
	assert.NoError(t, a.Close(context.Background()))
}

func TestAdapter_Close_Flushes(t *testing.T) {
	r := reactortest.NewReactor()
	script := reactortest.NewFlushScript(4)
	a, err := r.Register(reactor.NewIOHandle(script))
	require.NoError(t, err)

	r.Source(a.Handle()).SetReady(reactor.Write)
	script.PushWrite(-1)

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, 1, script.Flushes())
	assert.True(t, script.Closed())
}

func TestAdapter_Close_FlushError(t *testing.T) {
	r := reactortest.NewReactor()
	script := reactortest.NewFlushScript(5)
	a, err := r.Register(reactor.NewIOHandle(script))
	require.NoError(t, err)

	flushErr := errors.New(`flush failed`)
	r.Source(a.Handle()).SetReady(reactor.Write)
	script.PushWriteErr(flushErr)

	err = a.Close(context.Background())
	assert.ErrorIs(t, err, flushErr)
	assert.True(t, script.Closed())
	// subsequent calls return the result of the first
	assert.ErrorIs(t, a.Close(context.Background()), flushErr)
}

func TestAdapter_Close_SkipsFlushWhileWriting(t *testing.T) {
	r := reactortest.NewReactor()
	script := reactortest.NewFlushScript(6)
	adapter, err := r.Register(reactor.NewIOHandle(script))
	require.NoError(t, err)
	a := testAdapter{Adapter: adapter, script: script.Script, src: r.Source(adapter.Handle())}

	writeCh := make(chan result, 1)
	go func() {
		n, err := a.Write(context.Background(), []byte(`x`))
		writeCh <- result{err: err, n: n}
	}()
	waitAwaiting(t, a, reactor.Write)

	require.NoError(t, a.Close(context.Background()))
	assert.ErrorIs(t, receive(t, writeCh).err, reactor.ErrClosed)
	assert.Equal(t, 0, script.Flushes())
	assert.Equal(t, 0, script.WriteCalls())
	assert.True(t, script.Closed())
}

func TestAdapter_Flush_NotFlusher(t *testing.T) {
	a := newTestAdapter(t)
	assert.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, uint64(0), a.Stats().Write.Attempts)
}

func TestAdapter_SourceErr(t *testing.T) {
	a := newTestAdapter(t)
	srcErr := errors.New(`backend gone`)

	ch := goRead(context.Background(), a, make([]byte, 8))
	waitAwaiting(t, a, reactor.Read)
	a.src.SetErr(srcErr)

	assert.ErrorIs(t, receive(t, ch).err, srcErr)
	_, err := a.Write(context.Background(), []byte(`x`))
	assert.ErrorIs(t, err, srcErr)
	assert.Equal(t, 0, a.script.WriteCalls())
}

func TestAdapter_ErrorPassthrough(t *testing.T) {
	a := newTestAdapter(t)
	a.script.PushReadErr(io.EOF)
	a.src.SetReady(reactor.Read)

	n, err := a.Read(context.Background(), make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	// readiness is only cleared on would-block
	assert.True(t, a.src.Ready(reactor.Read))
}

func TestAdapter_ZeroLength(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	n, err := a.Read(ctx, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = a.Write(ctx, []byte{})
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = a.WriteString(ctx, ``)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = a.ReadVectored(ctx, [][]byte{nil, {}})
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, reactor.Stats{}, a.Stats())
}

func TestAdapter_Vectored_Fallback(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.script.PushRead([]byte(`abcdef`))
	a.src.SetReady(reactor.Read)
	first, second := make([]byte, 0), make([]byte, 4)
	n, err := a.ReadVectored(ctx, [][]byte{first, second})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, `abcd`, string(second))

	a.script.PushWrite(-1)
	a.src.SetReady(reactor.Write)
	n, err = a.WriteVectored(ctx, [][]byte{nil, []byte(`12`), []byte(`34`)})
	require.NoError(t, err)
	// a single write, of the first non-empty buffer
	assert.Equal(t, 2, n)
	assert.Equal(t, `12`, string(a.script.Written()))
}

func TestAdapter_ReadFull(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.script.PushRead([]byte(`ab`))
	a.script.PushRead([]byte(`cd`))
	a.src.SetReady(reactor.Read)

	buf := make([]byte, 4)
	n, err := a.ReadFull(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, `abcd`, string(buf))

	a.script.PushRead([]byte(`e`))
	a.script.PushReadErr(io.EOF)
	n, err = a.ReadFull(ctx, buf)
	assert.Equal(t, 1, n)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	a.script.PushReadErr(io.EOF)
	n, err = a.ReadFull(ctx, buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestAdapter_WriteAll(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.script.PushWrite(2)
	a.script.PushWrite(-1)
	a.src.SetReady(reactor.Write)

	n, err := a.WriteAll(ctx, []byte(`hello`))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, `hello`, string(a.script.Written()))
	assert.Equal(t, uint64(2), a.Stats().Write.Attempts)

	a.script.PushWrite(0)
	n, err = a.WriteAll(ctx, []byte(`x`))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.ErrShortWrite, err)
}

func TestAdapter_ReadWith(t *testing.T) {
	a := newTestAdapter(t)
	a.src.SetReady(reactor.Read)

	var calls int
	n, err := a.ReadWith(context.Background(), func(h *reactor.IOHandle) (int, error) {
		calls++
		assert.Same(t, a.Handle(), h)
		if calls == 1 {
			a.src.SetReady(reactor.Read)
			return 0, reactor.ErrWouldBlock
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, 2, calls)
	// the first attempt's clear was superseded by the newer event
	assert.Equal(t, 0, a.src.Clears(reactor.Read))
	assert.Equal(t, uint64(0), a.Stats().Read.Suspensions)
}

func TestAdapter_Bind(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	rwc := a.Bind(ctx)

	a.script.PushWrite(-1)
	a.src.SetReady(reactor.Write)
	_, err := fmt.Fprintf(rwc, "%s=%d", `key`, 7)
	require.NoError(t, err)
	assert.Equal(t, `key=7`, string(a.script.Written()))

	a.script.PushRead([]byte(`line one `))
	a.script.PushRead([]byte(`line two`))
	a.script.PushReadErr(io.EOF)
	a.src.SetReady(reactor.Read)
	got, err := io.ReadAll(rwc)
	require.NoError(t, err)
	assert.Equal(t, `line one line two`, string(got))

	require.NoError(t, rwc.Close())
	assert.True(t, a.script.Closed())
}

func TestNewAdapter_Nil(t *testing.T) {
	_, err := reactor.NewAdapter(nil, reactortest.NewSource())
	assert.Error(t, err)
	_, err = reactor.NewAdapter(reactor.NewIOHandle(reactortest.NewScript(1)), nil)
	assert.Error(t, err)
	assert.Panics(t, func() { reactor.NewIOHandle(nil) })
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
