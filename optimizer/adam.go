package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// AdamOptimizer implements the Adam update rule with bias correction and
// optional L2 weight decay.
type AdamOptimizer struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	// First moment (momentum) and second moment (variance) buffers,
	// one per parameter
	MomentumBuffers [][]float64
	VarianceBuffers [][]float64

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizer, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &AdamOptimizer{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizer) Step(params []*engine.Parameter) error {
	if adam.MomentumBuffers == nil {
		adam.MomentumBuffers = allocStateBuffers(params)
		adam.VarianceBuffers = allocStateBuffers(params)
	}
	if err := checkParamCount(adam.MomentumBuffers, params); err != nil {
		return err
	}

	adam.StepCount++
	bc1 := 1.0 - math.Pow(adam.Beta1, float64(adam.StepCount))
	bc2 := 1.0 - math.Pow(adam.Beta2, float64(adam.StepCount))

	for i, p := range params {
		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if adam.WeightDecay > 0 {
				g += adam.WeightDecay * p.Data[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= adam.LearningRate * mHat / (math.Sqrt(vHat) + adam.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizer) UpdateLearningRate(newLR float64) {
	adam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizer) GetLearningRate() float64 {
	return adam.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizer) GetStepCount() uint64 {
	return adam.StepCount
}

// Name returns the optimizer kind
func (adam *AdamOptimizer) Name() string {
	return "Adam"
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range adam.MomentumBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("m_%d", i), "m")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}
	for i, buffer := range adam.VarianceBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("v_%d", i), "v")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat64Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat64Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	if err := restoreBuffersByType(&adam.MomentumBuffers, state, "m"); err != nil {
		return err
	}
	return restoreBuffersByType(&adam.VarianceBuffers, state, "v")
}
