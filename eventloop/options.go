// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"net"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger         *logiface.Logger[logiface.Event]
	metricsEnabled bool
}

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger      *logiface.Logger[logiface.Event]
	resolver    *net.Resolver
	adapterOpts []reactor.AdapterOption
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger configures the logger used by the Loop, e.g. for poll failures
// and panicking tasks. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Reactor Options ---

// ReactorOption configures a Reactor instance.
type ReactorOption interface {
	applyReactor(*reactorOptions) error
}

// reactorOptionImpl implements ReactorOption.
type reactorOptionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (r *reactorOptionImpl) applyReactor(opts *reactorOptions) error {
	return r.applyReactorFunc(opts)
}

// WithReactorLogger configures the logger used by the Reactor, and by each
// Adapter it creates.
func WithReactorLogger(logger *logiface.Logger[logiface.Event]) ReactorOption {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithResolver configures the resolver used by Reactor.Resolve. Defaults to
// net.DefaultResolver.
func WithResolver(resolver *net.Resolver) ReactorOption {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.resolver = resolver
		return nil
	}}
}

// WithAdapterOptions configures options passed to every Adapter created by
// the Reactor, after any implied by other options.
func WithAdapterOptions(options ...reactor.AdapterOption) ReactorOption {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.adapterOpts = append(opts.adapterOpts, options...)
		return nil
	}}
}

// resolveReactorOptions applies ReactorOption instances to reactorOptions.
func resolveReactorOptions(opts []ReactorOption) (*reactorOptions, error) {
	cfg := &reactorOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.resolver == nil {
		cfg.resolver = net.DefaultResolver
	}
	return cfg, nil
}
