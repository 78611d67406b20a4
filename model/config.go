package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/tsawler/go-pose/search"
)

// Hyperparameter keys read from each drawn assignment.
const (
	KeyLearningRate = "lr"
	KeyHidden       = "hidden"
	KeyDropout      = "dropout"
	KeyBeta         = "beta"
	// KeyOptimizer optionally overrides the update rule; missing means
	// adam.
	KeyOptimizer = "optimizer"
)

var (
	// ErrMissingHyperparameter indicates an assignment without a key the
	// family consumes.
	ErrMissingHyperparameter = errors.New("model: missing hyperparameter")
	// ErrInvalidHyperparameter indicates a drawn value of the wrong type
	// or outside its valid range.
	ErrInvalidHyperparameter = errors.New("model: invalid hyperparameter")
)

var validate = validator.New()

// Hyperparameters is the per-draw slice of an assignment every family
// consumes. Beta is only read by the naive-weighted loss.
type Hyperparameters struct {
	LearningRate float64 `validate:"gt=0"`
	Hidden       int     `validate:"gt=0"`
	Dropout      float64 `validate:"gte=0,lt=1"`
	Beta         float64 `validate:"gte=0"`
	Optimizer    string  `validate:"omitempty,oneof=adadelta adagrad adam nadam rmsprop sgd"`
}

// Config is one validated hyperparameter assignment bound to a model
// family. The set of implementations is closed over the top-model tags.
type Config interface {
	Family() TopModelType
	Base() Hyperparameters
}

// RegressorConfig validates a draw for the feed-forward head.
type RegressorConfig struct {
	Hyperparameters
}

func (c *RegressorConfig) Family() TopModelType { return TopModelRegressor }
func (c *RegressorConfig) Base() Hyperparameters { return c.Hyperparameters }

// SpatialLSTMConfig validates a draw for the spatial-sequence head. SeqLen
// is the number of spatial steps each flat feature vector splits into.
type SpatialLSTMConfig struct {
	Hyperparameters
	SeqLen int `validate:"gt=0"`
}

func (c *SpatialLSTMConfig) Family() TopModelType { return TopModelSpatialLSTM }
func (c *SpatialLSTMConfig) Base() Hyperparameters { return c.Hyperparameters }

// StandardLSTMConfig validates a draw for the windowed temporal head.
type StandardLSTMConfig struct {
	Hyperparameters
	SeqLen int `validate:"gt=0"`
}

func (c *StandardLSTMConfig) Family() TopModelType { return TopModelStandardLSTM }
func (c *StandardLSTMConfig) Base() Hyperparameters { return c.Hyperparameters }

// StatefulLSTMConfig validates a draw for the stateful temporal head.
type StatefulLSTMConfig struct {
	Hyperparameters
	SeqLen    int `validate:"gt=0"`
	SubseqLen int `validate:"gt=0"`
}

func (c *StatefulLSTMConfig) Family() TopModelType { return TopModelStatefulLSTM }
func (c *StatefulLSTMConfig) Base() Hyperparameters { return c.Hyperparameters }

// NewConfig populates and validates the family config for one drawn
// assignment. It runs at draw time, before any layer is built, so a bad
// draw fails its iteration without constructing anything.
func NewConfig(opts Options, a search.Assignment) (Config, error) {
	hp, err := hyperparametersFrom(a, opts.Loss)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch opts.TopModel {
	case TopModelRegressor:
		cfg = &RegressorConfig{Hyperparameters: hp}
	case TopModelSpatialLSTM:
		cfg = &SpatialLSTMConfig{Hyperparameters: hp, SeqLen: opts.SeqLen}
	case TopModelStandardLSTM:
		cfg = &StandardLSTMConfig{Hyperparameters: hp, SeqLen: opts.SeqLen}
	case TopModelStatefulLSTM:
		cfg = &StatefulLSTMConfig{Hyperparameters: hp, SeqLen: opts.SeqLen, SubseqLen: opts.SubseqLen}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownTopModel, opts.TopModel)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHyperparameter, err)
	}
	return cfg, nil
}

// hyperparametersFrom extracts the common keys. Beta is required, and must
// be positive, only when the loss reads it.
func hyperparametersFrom(a search.Assignment, loss LossType) (Hyperparameters, error) {
	var hp Hyperparameters
	var err error

	if hp.LearningRate, err = floatValue(a, KeyLearningRate); err != nil {
		return hp, err
	}
	if hp.Hidden, err = intValue(a, KeyHidden); err != nil {
		return hp, err
	}
	if hp.Dropout, err = floatValue(a, KeyDropout); err != nil {
		return hp, err
	}
	if loss == LossNaiveWeighted {
		if hp.Beta, err = floatValue(a, KeyBeta); err != nil {
			return hp, err
		}
		if hp.Beta <= 0 {
			return hp, fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidHyperparameter, KeyBeta, hp.Beta)
		}
	}

	hp.Optimizer = "adam"
	if _, ok := a[KeyOptimizer]; ok {
		if hp.Optimizer, err = stringValue(a, KeyOptimizer); err != nil {
			return hp, err
		}
	}
	return hp, nil
}

func floatValue(a search.Assignment, key string) (float64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingHyperparameter, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s must be numeric, got %T", ErrInvalidHyperparameter, key, v)
}

func intValue(a search.Assignment, key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingHyperparameter, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidHyperparameter, key, v)
}

func stringValue(a search.Assignment, key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingHyperparameter, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidHyperparameter, key, v)
	}
	return s, nil
}
