package model

import (
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/search"
	"github.com/tsawler/go-pose/training"
)

// Factory builds pose models for the search driver, one per drawn
// assignment. Options are validated once at construction; each draw's
// hyperparameters are validated at build time, before any layers exist.
type Factory struct {
	opts   Options
	log    *logging.Logger
	builds int64
}

// NewFactory validates the options and returns a factory. A nil logger
// disables session logging.
func NewFactory(opts Options, log *logging.Logger) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Factory{opts: opts, log: log}, nil
}

// Options returns the fixed model options.
func (f *Factory) Options() Options { return f.opts }

// RequiredKeys lists the hyperparameter names every assignment must carry
// for this factory's family and loss.
func (f *Factory) RequiredKeys() []string {
	keys := []string{KeyLearningRate, KeyHidden, KeyDropout}
	if f.opts.Loss == LossNaiveWeighted {
		keys = append(keys, KeyBeta)
	}
	return keys
}

// Build validates the draw and assembles the model. Each build offsets the
// weight-initialization seed so iterations do not share a starting point.
func (f *Factory) Build(identifier string, a search.Assignment) (*training.Session, engine.Loss, error) {
	cfg, err := NewConfig(f.opts, a)
	if err != nil {
		return nil, nil, err
	}

	opts := f.opts
	opts.Seed += f.builds
	f.builds++

	m := &PoseModel{Options: opts, Config: cfg}
	sess, err := m.Build(identifier, f.log)
	if err != nil {
		return nil, nil, err
	}
	return sess, m.Criterion(), nil
}
