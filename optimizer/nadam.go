package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// NadamOptimizer combines Adam's adaptive learning rates with Nesterov
// momentum.
type NadamOptimizer struct {
	// Hyperparameters
	LearningRate float64 // Base learning rate (typically 0.002)
	Beta1        float64 // Exponential decay rate for first moment estimates (typically 0.9)
	Beta2        float64 // Exponential decay rate for second moment estimates (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero
	WeightDecay  float64 // L2 regularization coefficient

	// First and second moment buffers, one per parameter
	MomentumBuffers [][]float64
	VarianceBuffers [][]float64

	// Step tracking for bias correction
	StepCount uint64
}

// NadamConfig holds configuration for Nadam optimizer
type NadamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultNadamConfig returns default Nadam optimizer configuration
func DefaultNadamConfig() NadamConfig {
	return NadamConfig{
		LearningRate: 0.002,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewNadamOptimizer creates a new Nadam optimizer
func NewNadamOptimizer(config NadamConfig) (*NadamOptimizer, error) {
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

	return &NadamOptimizer{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single Nadam optimization step
func (nd *NadamOptimizer) Step(params []*engine.Parameter) error {
	if nd.MomentumBuffers == nil {
		nd.MomentumBuffers = allocStateBuffers(params)
		nd.VarianceBuffers = allocStateBuffers(params)
	}
	if err := checkParamCount(nd.MomentumBuffers, params); err != nil {
		return err
	}

	nd.StepCount++
	t := float64(nd.StepCount)
	bc1 := 1.0 - math.Pow(nd.Beta1, t)
	bc1Next := 1.0 - math.Pow(nd.Beta1, t+1)
	bc2 := 1.0 - math.Pow(nd.Beta2, t)

	for i, p := range params {
		m := nd.MomentumBuffers[i]
		v := nd.VarianceBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if nd.WeightDecay > 0 {
				g += nd.WeightDecay * p.Data[j]
			}
			m[j] = nd.Beta1*m[j] + (1-nd.Beta1)*g
			v[j] = nd.Beta2*v[j] + (1-nd.Beta2)*g*g

			// Nesterov lookahead on the bias-corrected first moment
			mHat := nd.Beta1*m[j]/bc1Next + (1-nd.Beta1)*g/bc1
			vHat := v[j] / bc2
			p.Data[j] -= nd.LearningRate * mHat / (math.Sqrt(vHat) + nd.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (nd *NadamOptimizer) UpdateLearningRate(newLR float64) {
	nd.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (nd *NadamOptimizer) GetLearningRate() float64 {
	return nd.LearningRate
}

// GetStepCount returns the current step count
func (nd *NadamOptimizer) GetStepCount() uint64 {
	return nd.StepCount
}

// Name returns the optimizer kind
func (nd *NadamOptimizer) Name() string {
	return "Nadam"
}

// GetState extracts optimizer state for checkpointing
func (nd *NadamOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range nd.MomentumBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("m_%d", i), "m")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}
	for i, buffer := range nd.VarianceBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("v_%d", i), "v")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "Nadam",
		Parameters: map[string]interface{}{
			"learning_rate": nd.LearningRate,
			"beta1":         nd.Beta1,
			"beta2":         nd.Beta2,
			"epsilon":       nd.Epsilon,
			"weight_decay":  nd.WeightDecay,
			"step_count":    nd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (nd *NadamOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("Nadam", state); err != nil {
		return err
	}

	nd.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", nd.LearningRate)
	nd.Beta1 = extractFloat64Param(state.Parameters, "beta1", nd.Beta1)
	nd.Beta2 = extractFloat64Param(state.Parameters, "beta2", nd.Beta2)
	nd.Epsilon = extractFloat64Param(state.Parameters, "epsilon", nd.Epsilon)
	nd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", nd.WeightDecay)
	nd.StepCount = extractUint64Param(state.Parameters, "step_count", nd.StepCount)

	if err := restoreBuffersByType(&nd.MomentumBuffers, state, "m"); err != nil {
		return err
	}
	return restoreBuffersByType(&nd.VarianceBuffers, state, "v")
}
