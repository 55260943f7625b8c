package reactor

import (
	"github.com/joeycumines/logiface"
)

// adapterOptions holds configuration options for Adapter creation.
type adapterOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// AdapterOption configures an Adapter instance.
type AdapterOption interface {
	applyAdapter(*adapterOptions) error
}

// adapterOptionImpl implements AdapterOption.
type adapterOptionImpl struct {
	applyAdapterFunc func(*adapterOptions) error
}

func (a *adapterOptionImpl) applyAdapter(opts *adapterOptions) error {
	return a.applyAdapterFunc(opts)
}

// WithLogger configures the logger used for diagnostics. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) AdapterOption {
	return &adapterOptionImpl{func(opts *adapterOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveAdapterOptions applies AdapterOption instances to adapterOptions.
func resolveAdapterOptions(opts []AdapterOption) (*adapterOptions, error) {
	cfg := &adapterOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyAdapter(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
