package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// RMSPropOptimizer implements RMSProp with optional momentum and centered
// variants.
type RMSPropOptimizer struct {
	// Hyperparameters
	LearningRate float64
	Alpha        float64 // Smoothing constant (typically 0.99)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient
	Momentum     float64 // Momentum coefficient (typically 0.9, 0.0 for no momentum)
	Centered     bool    // Whether to use centered RMSProp (subtract mean of gradients)

	// Running average of squared gradients, one per parameter
	SquaredGradAvgBuffers [][]float64
	// Momentum buffers (if momentum > 0)
	MomentumBuffers [][]float64
	// Running average of gradients (if centered)
	GradientAvgBuffers [][]float64

	// Step tracking
	StepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer
func NewRMSPropOptimizer(config RMSPropConfig) (*RMSPropOptimizer, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &RMSPropOptimizer{
		LearningRate: config.LearningRate,
		Alpha:        config.Alpha,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		Momentum:     config.Momentum,
		Centered:     config.Centered,
	}, nil
}

// Step performs a single RMSProp optimization step
func (rms *RMSPropOptimizer) Step(params []*engine.Parameter) error {
	if rms.SquaredGradAvgBuffers == nil {
		rms.SquaredGradAvgBuffers = allocStateBuffers(params)
		if rms.Momentum > 0 {
			rms.MomentumBuffers = allocStateBuffers(params)
		}
		if rms.Centered {
			rms.GradientAvgBuffers = allocStateBuffers(params)
		}
	}
	if err := checkParamCount(rms.SquaredGradAvgBuffers, params); err != nil {
		return err
	}

	rms.StepCount++

	for i, p := range params {
		sq := rms.SquaredGradAvgBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if rms.WeightDecay > 0 {
				g += rms.WeightDecay * p.Data[j]
			}
			sq[j] = rms.Alpha*sq[j] + (1-rms.Alpha)*g*g

			denomSq := sq[j]
			if rms.Centered {
				avg := rms.GradientAvgBuffers[i]
				avg[j] = rms.Alpha*avg[j] + (1-rms.Alpha)*g
				denomSq -= avg[j] * avg[j]
			}
			update := g / (math.Sqrt(denomSq) + rms.Epsilon)

			if rms.Momentum > 0 {
				buf := rms.MomentumBuffers[i]
				buf[j] = rms.Momentum*buf[j] + update
				update = buf[j]
			}
			p.Data[j] -= rms.LearningRate * update
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (rms *RMSPropOptimizer) UpdateLearningRate(newLR float64) {
	rms.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (rms *RMSPropOptimizer) GetLearningRate() float64 {
	return rms.LearningRate
}

// GetStepCount returns the current step count
func (rms *RMSPropOptimizer) GetStepCount() uint64 {
	return rms.StepCount
}

// Name returns the optimizer kind
func (rms *RMSPropOptimizer) Name() string {
	return "RMSProp"
}

// GetState extracts optimizer state for checkpointing
func (rms *RMSPropOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range rms.SquaredGradAvgBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("squared_grad_avg_%d", i), "squared_grad_avg")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}
	if rms.Momentum > 0 {
		for i, buffer := range rms.MomentumBuffers {
			tensor := extractBufferState(buffer, fmt.Sprintf("momentum_%d", i), "momentum")
			if tensor != nil {
				stateData = append(stateData, *tensor)
			}
		}
	}
	if rms.Centered {
		for i, buffer := range rms.GradientAvgBuffers {
			tensor := extractBufferState(buffer, fmt.Sprintf("gradient_avg_%d", i), "gradient_avg")
			if tensor != nil {
				stateData = append(stateData, *tensor)
			}
		}
	}

	return &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rms.LearningRate,
			"alpha":         rms.Alpha,
			"epsilon":       rms.Epsilon,
			"weight_decay":  rms.WeightDecay,
			"momentum":      rms.Momentum,
			"centered":      rms.Centered,
			"step_count":    rms.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (rms *RMSPropOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	rms.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", rms.LearningRate)
	rms.Alpha = extractFloat64Param(state.Parameters, "alpha", rms.Alpha)
	rms.Epsilon = extractFloat64Param(state.Parameters, "epsilon", rms.Epsilon)
	rms.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", rms.WeightDecay)
	rms.Momentum = extractFloat64Param(state.Parameters, "momentum", rms.Momentum)
	rms.Centered = extractBoolParam(state.Parameters, "centered", rms.Centered)
	rms.StepCount = extractUint64Param(state.Parameters, "step_count", rms.StepCount)

	if err := restoreBuffersByType(&rms.SquaredGradAvgBuffers, state, "squared_grad_avg"); err != nil {
		return err
	}
	if err := restoreBuffersByType(&rms.MomentumBuffers, state, "momentum"); err != nil {
		return err
	}
	return restoreBuffersByType(&rms.GradientAvgBuffers, state, "gradient_avg")
}
