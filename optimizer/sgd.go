package optimizer

import (
	"fmt"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// SGDOptimizer implements stochastic gradient descent with optional
// momentum, Nesterov momentum and L2 weight decay.
type SGDOptimizer struct {
	// Hyperparameters
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Momentum buffers, one per parameter (only if momentum > 0)
	MomentumBuffers [][]float64

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizer, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	return &SGDOptimizer{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
	}, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizer) Step(params []*engine.Parameter) error {
	if sgd.Momentum > 0 {
		if sgd.MomentumBuffers == nil {
			sgd.MomentumBuffers = allocStateBuffers(params)
		}
		if err := checkParamCount(sgd.MomentumBuffers, params); err != nil {
			return err
		}
	}

	sgd.StepCount++

	for i, p := range params {
		for j := range p.Data {
			g := p.Grad[j]
			if sgd.WeightDecay > 0 {
				g += sgd.WeightDecay * p.Data[j]
			}
			if sgd.Momentum > 0 {
				v := sgd.Momentum*sgd.MomentumBuffers[i][j] + g
				sgd.MomentumBuffers[i][j] = v
				if sgd.Nesterov {
					g = g + sgd.Momentum*v
				} else {
					g = v
				}
			}
			p.Data[j] -= sgd.LearningRate * g
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizer) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizer) GetLearningRate() float64 {
	return sgd.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizer) GetStepCount() uint64 {
	return sgd.StepCount
}

// Name returns the optimizer kind
func (sgd *SGDOptimizer) Name() string {
	return "SGD"
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	if sgd.Momentum > 0 && sgd.MomentumBuffers != nil {
		for i, buffer := range sgd.MomentumBuffers {
			tensor := extractBufferState(buffer, fmt.Sprintf("momentum_%d", i), "momentum")
			if tensor != nil {
				stateData = append(stateData, *tensor)
			}
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	return restoreBuffersByType(&sgd.MomentumBuffers, state, "momentum")
}
