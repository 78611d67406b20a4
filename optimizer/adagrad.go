package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// AdaGradOptimizer implements AdaGrad, which adapts per-parameter learning
// rates by accumulating squared gradients.
type AdaGradOptimizer struct {
	// Hyperparameters
	LearningRate float64 // Learning rate
	Epsilon      float64 // Small constant for numerical stability
	WeightDecay  float64 // L2 regularization strength

	// Accumulated squared gradients, one per parameter
	SquaredGradBuffers [][]float64

	// Step tracking
	StepCount uint64
}

// AdaGradConfig holds configuration for AdaGrad optimizer
type AdaGradConfig struct {
	LearningRate float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{
		LearningRate: 0.01,
		Epsilon:      1e-10,
		WeightDecay:  0.0,
	}
}

// NewAdaGradOptimizer creates a new AdaGrad optimizer
func NewAdaGradOptimizer(config AdaGradConfig) (*AdaGradOptimizer, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &AdaGradOptimizer{
		LearningRate: config.LearningRate,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single AdaGrad optimization step
func (ag *AdaGradOptimizer) Step(params []*engine.Parameter) error {
	if ag.SquaredGradBuffers == nil {
		ag.SquaredGradBuffers = allocStateBuffers(params)
	}
	if err := checkParamCount(ag.SquaredGradBuffers, params); err != nil {
		return err
	}

	ag.StepCount++

	for i, p := range params {
		acc := ag.SquaredGradBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if ag.WeightDecay > 0 {
				g += ag.WeightDecay * p.Data[j]
			}
			acc[j] += g * g
			p.Data[j] -= ag.LearningRate * g / (math.Sqrt(acc[j]) + ag.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (ag *AdaGradOptimizer) UpdateLearningRate(newLR float64) {
	ag.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (ag *AdaGradOptimizer) GetLearningRate() float64 {
	return ag.LearningRate
}

// GetStepCount returns the current step count
func (ag *AdaGradOptimizer) GetStepCount() uint64 {
	return ag.StepCount
}

// Name returns the optimizer kind
func (ag *AdaGradOptimizer) Name() string {
	return "AdaGrad"
}

// GetState extracts optimizer state for checkpointing
func (ag *AdaGradOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range ag.SquaredGradBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("squared_grad_%d", i), "squared_grad")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "AdaGrad",
		Parameters: map[string]interface{}{
			"learning_rate": ag.LearningRate,
			"epsilon":       ag.Epsilon,
			"weight_decay":  ag.WeightDecay,
			"step_count":    ag.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (ag *AdaGradOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaGrad", state); err != nil {
		return err
	}

	ag.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", ag.LearningRate)
	ag.Epsilon = extractFloat64Param(state.Parameters, "epsilon", ag.Epsilon)
	ag.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", ag.WeightDecay)
	ag.StepCount = extractUint64Param(state.Parameters, "step_count", ag.StepCount)

	return restoreBuffersByType(&ag.SquaredGradBuffers, state, "squared_grad")
}
