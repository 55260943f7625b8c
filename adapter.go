package reactor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

type (
	// Adapter is the asynchronous form of an [IOHandle], produced by
	// registering it with a [Reactor]. It exclusively owns both the handle
	// and the [Readiness] primitive tracking it.
	//
	// Read and write directions are independent. At most one operation may be
	// in progress per direction, see [ErrBusy].
	Adapter struct {
		handle *IOHandle
		src    Readiness
		logger *logiface.Logger[logiface.Event]
		// guards handle against release while an attempt is in progress
		mu        sync.RWMutex
		closeOnce sync.Once
		closeErr  error
		dirs      [2]adapterDirection
		id        uint64
		closed    atomic.Bool
	}

	// adapterDirection is the per-direction state object.
	adapterDirection struct {
		// wake is signalled (non-blocking, buffer of one) by the readiness
		// primitive, via wakeFn
		wake        chan struct{}
		wakeFn      func()
		attempts    atomic.Uint64
		stale       atomic.Uint64
		suspensions atomic.Uint64
		state       atomic.Uint32
		busy        atomic.Bool
	}

	// DirectionStats are counters for one direction of an [Adapter].
	DirectionStats struct {
		// Attempts is the number of calls made to the underlying handle.
		Attempts uint64
		// StaleRetries is the number of attempts that would have blocked,
		// despite a readiness notification.
		StaleRetries uint64
		// Suspensions is the number of times an operation waited for a
		// readiness notification.
		Suspensions uint64
	}

	// Stats are counters for an [Adapter].
	Stats struct {
		Read  DirectionStats
		Write DirectionStats
	}

	boundIO struct {
		ctx context.Context
		a   *Adapter
	}
)

var (
	adapterIDCounter atomic.Uint64

	// limits the debug log for stale readiness, per adapter and direction
	staleLogLimiter = catrate.NewLimiter(map[time.Duration]int{
		time.Second: 1,
		time.Minute: 10,
	})
)

// NewAdapter pairs h with src. It is intended for use by [Reactor]
// implementations, which must ensure src tracks h. On success, the adapter
// owns both.
func NewAdapter(h *IOHandle, src Readiness, opts ...AdapterOption) (*Adapter, error) {
	if h == nil || src == nil {
		return nil, errors.New(`reactor: nil handle or readiness`)
	}
	cfg, err := resolveAdapterOptions(opts)
	if err != nil {
		return nil, err
	}
	x := &Adapter{
		handle: h,
		src:    src,
		logger: cfg.logger,
		id:     adapterIDCounter.Add(1),
	}
	for i := range x.dirs {
		d := &x.dirs[i]
		d.wake = make(chan struct{}, 1)
		d.wakeFn = func() {
			select {
			case d.wake <- struct{}{}:
			default:
			}
		}
	}
	return x, nil
}

// Handle returns the underlying handle. Using it directly bypasses the
// readiness algorithm.
func (x *Adapter) Handle() *IOHandle { return x.handle }

// State returns the current state of direction d.
func (x *Adapter) State(d Direction) State {
	return State(x.dirs[d].state.Load())
}

// Stats returns a snapshot of the adapter's counters.
func (x *Adapter) Stats() Stats {
	load := func(d *adapterDirection) DirectionStats {
		return DirectionStats{
			Attempts:     d.attempts.Load(),
			StaleRetries: d.stale.Load(),
			Suspensions:  d.suspensions.Load(),
		}
	}
	return Stats{
		Read:  load(&x.dirs[Read]),
		Write: load(&x.dirs[Write]),
	}
}

// Read reads into p, waiting for the handle to become readable.
func (x *Adapter) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return x.do(ctx, Read, func() (int, error) { return x.handle.Read(p) })
}

// ReadVectored reads into bufs, see [IOHandle.ReadVectored].
func (x *Adapter) ReadVectored(ctx context.Context, bufs [][]byte) (int, error) {
	if vectoredLen(bufs) == 0 {
		return 0, nil
	}
	return x.do(ctx, Read, func() (int, error) { return x.handle.ReadVectored(bufs) })
}

// ReadWith runs fn under the readiness algorithm for the read direction.
// Errors from fn that satisfy [IsWouldBlock] cause a retry, once the handle
// is readable again.
func (x *Adapter) ReadWith(ctx context.Context, fn func(h *IOHandle) (int, error)) (int, error) {
	return x.do(ctx, Read, func() (int, error) { return fn(x.handle) })
}

// ReadFull reads exactly len(p) bytes, with the semantics of [io.ReadFull].
func (x *Adapter) ReadFull(ctx context.Context, p []byte) (n int, err error) {
	for n < len(p) && err == nil {
		var nn int
		nn, err = x.Read(ctx, p[n:])
		n += nn
	}
	if n >= len(p) {
		err = nil
	} else if n > 0 && err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return
}

// Write writes p, waiting for the handle to become writable. Like the
// underlying handle, it may complete partially.
func (x *Adapter) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return x.do(ctx, Write, func() (int, error) { return x.handle.Write(p) })
}

// WriteVectored writes bufs, see [IOHandle.WriteVectored].
func (x *Adapter) WriteVectored(ctx context.Context, bufs [][]byte) (int, error) {
	if vectoredLen(bufs) == 0 {
		return 0, nil
	}
	return x.do(ctx, Write, func() (int, error) { return x.handle.WriteVectored(bufs) })
}

// WriteString writes s, see [IOHandle.WriteString].
func (x *Adapter) WriteString(ctx context.Context, s string) (int, error) {
	if len(s) == 0 {
		return 0, nil
	}
	return x.do(ctx, Write, func() (int, error) { return x.handle.WriteString(s) })
}

// WriteWith runs fn under the readiness algorithm for the write direction,
// see also [Adapter.ReadWith].
func (x *Adapter) WriteWith(ctx context.Context, fn func(h *IOHandle) (int, error)) (int, error) {
	return x.do(ctx, Write, func() (int, error) { return fn(x.handle) })
}

// WriteAll writes all of p, unless an error occurs.
func (x *Adapter) WriteAll(ctx context.Context, p []byte) (n int, err error) {
	for n < len(p) {
		var nn int
		nn, err = x.Write(ctx, p[n:])
		n += nn
		if err != nil {
			return
		}
		if nn == 0 {
			return n, io.ErrShortWrite
		}
	}
	return
}

// Flush makes pending writes visible, as a write-direction operation. It
// returns immediately if the handle has nothing to flush, see
// [IOHandle.CanFlush].
func (x *Adapter) Flush(ctx context.Context) error {
	if !x.handle.CanFlush() {
		if x.closed.Load() {
			return ErrClosed
		}
		return nil
	}
	_, err := x.do(ctx, Write, func() (int, error) { return 0, x.handle.Flush() })
	return err
}

// Close flushes, then releases the readiness primitive, then the handle.
// Operations waiting on readiness are woken, and fail with [ErrClosed].
// Subsequent calls return the result of the first.
//
// If a write-direction operation is in progress, the flush is skipped,
// rather than failing with [ErrBusy].
func (x *Adapter) Close(ctx context.Context) error {
	x.closeOnce.Do(func() {
		var errs []error
		if err := x.Flush(ctx); err != nil && err != ErrBusy {
			errs = append(errs, err)
		}

		x.closed.Store(true)

		// the primitive must not outlive the handle
		if err := x.src.Close(); err != nil {
			errs = append(errs, err)
		}

		x.mu.Lock()
		err := x.handle.Close()
		x.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}

		x.closeErr = errors.Join(errs...)

		x.logger.Debug().
			Uint64(`adapter`, x.id).
			Err(x.closeErr).
			Log(`reactor: adapter closed`)
	})
	return x.closeErr
}

// Bind returns an [io.ReadWriteCloser] which uses ctx for every operation.
// Writes are performed using [Adapter.WriteAll].
func (x *Adapter) Bind(ctx context.Context) io.ReadWriteCloser {
	return &boundIO{ctx: ctx, a: x}
}

// do runs op, for direction d, under the readiness algorithm.
func (x *Adapter) do(ctx context.Context, d Direction, op func() (int, error)) (int, error) {
	s := &x.dirs[d]
	if !s.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer s.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for {
		g, err := x.ready(ctx, d)
		if err != nil {
			return 0, err
		}

		n, err, ok := x.attempt(op)
		if !ok {
			s.state.Store(uint32(StateIdle))
			return 0, ErrClosed
		}
		s.attempts.Add(1)

		if !IsWouldBlock(err) {
			s.state.Store(uint32(StateIdle))
			return n, err
		}

		// the notification was stale: without clearing it, the next check
		// would report ready again, and this would spin
		g.clearReady()
		s.stale.Add(1)
		x.logStale(d)
	}
}

// attempt runs op, unless the adapter is closed.
func (x *Adapter) attempt(op func() (int, error)) (n int, err error, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed.Load() {
		return
	}
	n, err = op()
	ok = true
	return
}

// ready blocks until d is observed as ready, returning a guard for that
// observation. This is the only point at which an operation suspends.
func (x *Adapter) ready(ctx context.Context, d Direction) (readyGuard, error) {
	s := &x.dirs[d]
	for {
		if x.closed.Load() {
			s.state.Store(uint32(StateIdle))
			return readyGuard{}, ErrClosed
		}
		if err := x.src.Err(); err != nil {
			s.state.Store(uint32(StateIdle))
			return readyGuard{}, err
		}

		tick, ok, cancel := x.src.PollReady(d, s.wakeFn)
		if ok {
			s.state.Store(uint32(StateReady))
			return readyGuard{src: x.src, dir: d, tick: tick}, nil
		}

		s.state.Store(uint32(StateAwaiting))
		s.suspensions.Add(1)

		select {
		case <-s.wake:
			s.state.Store(uint32(StateReady))

		case <-ctx.Done():
			if cancel != nil {
				cancel()
			}
			// discard any wake-up that raced with the cancel
			select {
			case <-s.wake:
			default:
			}
			s.state.Store(uint32(StateIdle))
			return readyGuard{}, ctx.Err()
		}
	}
}

func (x *Adapter) logStale(d Direction) {
	if x.logger == nil {
		return
	}
	type category struct {
		id  uint64
		dir Direction
	}
	if _, ok := staleLogLimiter.Allow(category{x.id, d}); !ok {
		return
	}
	x.logger.Debug().
		Uint64(`adapter`, x.id).
		Stringer(`direction`, d).
		Uint64(`stale`, x.dirs[d].stale.Load()).
		Log(`reactor: stale readiness, retrying`)
}

func (x *boundIO) Read(p []byte) (int, error) { return x.a.Read(x.ctx, p) }

func (x *boundIO) Write(p []byte) (int, error) { return x.a.WriteAll(x.ctx, p) }

func (x *boundIO) Close() error { return x.a.Close(x.ctx) }
