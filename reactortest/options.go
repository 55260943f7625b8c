package reactortest

import (
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

type options struct {
	clock       *Clock
	logger      *logiface.Logger[logiface.Event]
	adapterOpts []reactor.AdapterOption
}

// Option configures a Reactor.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithClock configures the clock. Defaults to a new Clock, starting at the
// unix epoch.
func WithClock(clock *Clock) Option {
	return optionFunc(func(o *options) { o.clock = clock })
}

// WithLogger configures the logger, which is also passed to each Adapter.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *options) { o.logger = logger })
}

// WithAdapterOptions configures options passed to every Adapter.
func WithAdapterOptions(opts ...reactor.AdapterOption) Option {
	return optionFunc(func(o *options) { o.adapterOpts = append(o.adapterOpts, opts...) })
}

func resolveOptions(opts []Option) *options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&o)
		}
	}
	if o.clock == nil {
		o.clock = NewClock(time.Unix(0, 0))
	}
	return &o
}
