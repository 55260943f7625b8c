// Command reactorcat is a small netcat-like tool, built on the eventloop
// reactor.
//
// Usage:
//
//	reactorcat [flags] dial host:port
//	reactorcat [flags] resolve host:port...
//	reactorcat [flags] tick [-count n] interval
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/go-reactor/eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "reactorcat: %v\n", err)
		}
		os.Exit(1)
	}
}

type config struct {
	timeout time.Duration
	verbose bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cfg config
	fs := flag.NewFlagSet(`reactorcat`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&cfg.timeout, `timeout`, 10*time.Second, `timeout for each connect or lookup`)
	fs.BoolVar(&cfg.verbose, `v`, false, `enable debug logging`)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: reactorcat [flags] dial|resolve|tick args...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	logger := newLogger(stderr, cfg.verbose)

	loop, err := eventloop.New(eventloop.WithLogger(logger), eventloop.WithMetrics(cfg.verbose))
	if err != nil {
		return err
	}
	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(context.Background()) }()
	defer func() {
		if err := loop.Shutdown(context.Background()); err != nil {
			logger.Warning().Err(err).Log(`shutdown failed`)
		}
		<-runDone
		m := loop.Metrics()
		logger.Debug().
			Uint64(`polls`, m.Polls).
			Uint64(`events`, m.Events).
			Uint64(`timers`, m.TimersFired).
			Uint64(`tasks`, m.Tasks).
			Log(`loop stopped`)
	}()

	r, err := eventloop.NewReactor(loop, eventloop.WithReactorLogger(logger))
	if err != nil {
		return err
	}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case `dial`:
		return dial(ctx, r, cfg, logger, cmdArgs, stdin, stdout)
	case `resolve`:
		return resolve(ctx, r, cfg, cmdArgs, stdout)
	case `tick`:
		return tick(ctx, r, cmdArgs, stdout, stderr)
	default:
		fs.Usage()
		return fmt.Errorf(`unknown command %q`, cmd)
	}
}

func newLogger(w io.Writer, verbose bool) *logiface.Logger[logiface.Event] {
	level := logiface.LevelInformational
	if verbose {
		level = logiface.LevelDebug
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
	).Logger()
}
