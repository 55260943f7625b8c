package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// dial connects to the first reachable address, then copies stdin to the
// connection, and the connection to stdout, until the peer closes it.
func dial(ctx context.Context, r reactor.FullReactor, cfg config, logger *logiface.Logger[logiface.Event], args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New(`dial: expected host:port`)
	}

	conn, err := connect(ctx, r, cfg, logger, args[0])
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	// stdin can't be interrupted, so it's not part of the group
	go func() {
		if _, err := io.Copy(conn.Bind(ctx), stdin); err != nil && !errors.Is(err, reactor.ErrClosed) {
			logger.Warning().Err(err).Log(`write failed`)
		}
	}()

	_, err = io.Copy(stdout, conn.Bind(ctx))
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := conn.Stats()
	logger.Debug().
		Uint64(`read_attempts`, stats.Read.Attempts).
		Uint64(`read_stale`, stats.Read.StaleRetries).
		Uint64(`write_attempts`, stats.Write.Attempts).
		Uint64(`write_stale`, stats.Write.StaleRetries).
		Log(`connection closed`)

	return err
}

func connect(ctx context.Context, r reactor.FullReactor, cfg config, logger *logiface.Logger[logiface.Event], hostport string) (*reactor.Adapter, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	addrs, err := r.Resolve(lookupCtx, hostport)
	cancel()
	if err != nil {
		return nil, err
	}

	var errs []error
	for addr := range addrs {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
		conn, err := r.Connect(connectCtx, addr)
		cancel()
		if err == nil {
			logger.Info().
				Str(`addr`, addr.String()).
				Log(`connected`)
			return conn, nil
		}
		logger.Debug().
			Str(`addr`, addr.String()).
			Err(err).
			Log(`connect failed`)
		errs = append(errs, fmt.Errorf(`%s: %w`, addr, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// resolve looks up each argument concurrently, printing the results in
// argument order.
func resolve(ctx context.Context, r reactor.Resolver, cfg config, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(`resolve: expected host:port`)
	}

	results := make([][]netip.AddrPort, len(args))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, hostport := range args {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
			addrs, err := r.Resolve(ctx, hostport)
			if err != nil {
				return fmt.Errorf(`%s: %w`, hostport, err)
			}
			for addr := range addrs {
				results[i] = append(results[i], addr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, addrs := range results {
		for _, addr := range addrs {
			if _, err := fmt.Fprintf(stdout, "%s\t%s\n", args[i], addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// tick prints a timestamp every interval, skipping ticks if stdout is slow.
func tick(ctx context.Context, r reactor.TimeReactor, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(`tick`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	count := fs.Int(`count`, 0, `stop after n ticks (0 for no limit)`)
	delay := fs.Duration(`delay`, 0, `sleep before the first tick`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New(`tick: expected interval`)
	}
	interval, err := time.ParseDuration(fs.Arg(0))
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf(`tick: invalid interval %s`, interval)
	}

	if err := r.Sleep(ctx, *delay); err != nil {
		// interrupted
		return nil
	}

	var n int
	for t := range reactor.Ticks(ctx, r.Interval(interval)) {
		n++
		if _, err := fmt.Fprintln(stdout, strconv.Itoa(n), t.Format(time.RFC3339Nano)); err != nil {
			return err
		}
		if *count > 0 && n >= *count {
			break
		}
	}
	return nil
}
