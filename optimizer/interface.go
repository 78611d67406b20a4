// Package optimizer provides gradient-descent update rules over engine
// parameters. All state lives on the CPU alongside the weights, and every
// optimizer can round-trip its state through a checkpoint.
package optimizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// ErrUnknownOptimizer reports a request for an optimizer kind outside the
// supported set.
var ErrUnknownOptimizer = errors.New("optimizer: unknown optimizer")

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step applies accumulated gradients to the parameters. The parameter
	// list must be the same, in the same order, on every call.
	Step(params []*engine.Parameter) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)

	// GetLearningRate returns the current learning rate
	GetLearningRate() float64

	// Name returns the optimizer kind, e.g. "Adam"
	Name() string
}

// OptimizerState represents the complete state of an optimizer.
// Compatible with checkpoints.OptimizerState for serialization.
type OptimizerState struct {
	Type       string                        `json:"type"`       // "Adam", "SGD", etc.
	Parameters map[string]interface{}        `json:"parameters"` // Hyperparameters
	StateData  []checkpoints.OptimizerTensor `json:"state_data"` // State tensors
}

// ToCheckpoint converts to the serializable checkpoint representation.
func (s *OptimizerState) ToCheckpoint() *checkpoints.OptimizerState {
	return &checkpoints.OptimizerState{
		Type:       s.Type,
		Parameters: s.Parameters,
		StateData:  s.StateData,
	}
}

// FromCheckpoint converts from the serializable checkpoint representation.
func FromCheckpoint(cs *checkpoints.OptimizerState) *OptimizerState {
	if cs == nil {
		return nil
	}
	return &OptimizerState{
		Type:       cs.Type,
		Parameters: cs.Parameters,
		StateData:  cs.StateData,
	}
}

// Create builds an optimizer of the named kind with the given learning
// rate and the kind's default hyperparameters. Recognized kinds are "sgd",
// "adam", "rmsprop", "adagrad", "adadelta" and "nadam"; matching is
// case-insensitive.
func Create(kind string, learningRate float64) (Optimizer, error) {
	switch strings.ToLower(kind) {
	case "sgd":
		config := DefaultSGDConfig()
		config.LearningRate = learningRate
		return NewSGDOptimizer(config)
	case "adam":
		config := DefaultAdamConfig()
		config.LearningRate = learningRate
		return NewAdamOptimizer(config)
	case "rmsprop":
		config := DefaultRMSPropConfig()
		config.LearningRate = learningRate
		return NewRMSPropOptimizer(config)
	case "adagrad":
		config := DefaultAdaGradConfig()
		config.LearningRate = learningRate
		return NewAdaGradOptimizer(config)
	case "adadelta":
		config := DefaultAdaDeltaConfig()
		config.LearningRate = learningRate
		return NewAdaDeltaOptimizer(config)
	case "nadam":
		config := DefaultNadamConfig()
		config.LearningRate = learningRate
		return NewNadamOptimizer(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, kind)
	}
}

// Kinds lists the supported optimizer kinds in stable order.
func Kinds() []string {
	return []string{"sgd", "adam", "rmsprop", "adagrad", "adadelta", "nadam"}
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	var idx int
	// Find the last underscore in the name
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	// Try to parse the number after the last underscore
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
