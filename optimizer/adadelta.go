package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// AdaDeltaOptimizer implements AdaDelta, which scales updates by the ratio
// of accumulated update and gradient magnitudes.
type AdaDeltaOptimizer struct {
	// Hyperparameters
	LearningRate float64 // Scale applied to the computed update (typically 1.0)
	Rho          float64 // Decay rate for moving averages (typically 0.95)
	Epsilon      float64 // Small constant for numerical stability
	WeightDecay  float64 // L2 regularization strength

	// E[g^2]_t, accumulated squared gradient averages
	SquaredGradAvgBuffers [][]float64
	// E[dx^2]_t, accumulated squared update averages
	SquaredUpdateAvgBuffers [][]float64

	// Step tracking
	StepCount uint64
}

// AdaDeltaConfig holds configuration for AdaDelta optimizer
type AdaDeltaConfig struct {
	LearningRate float64
	Rho          float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdaDeltaConfig returns default AdaDelta optimizer configuration
func DefaultAdaDeltaConfig() AdaDeltaConfig {
	return AdaDeltaConfig{
		LearningRate: 1.0,
		Rho:          0.95,
		Epsilon:      1e-6,
		WeightDecay:  0.0,
	}
}

// NewAdaDeltaOptimizer creates a new AdaDelta optimizer
func NewAdaDeltaOptimizer(config AdaDeltaConfig) (*AdaDeltaOptimizer, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Rho < 0 || config.Rho >= 1 {
		return nil, fmt.Errorf("rho must be in [0, 1): %f", config.Rho)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &AdaDeltaOptimizer{
		LearningRate: config.LearningRate,
		Rho:          config.Rho,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single AdaDelta optimization step
func (ad *AdaDeltaOptimizer) Step(params []*engine.Parameter) error {
	if ad.SquaredGradAvgBuffers == nil {
		ad.SquaredGradAvgBuffers = allocStateBuffers(params)
		ad.SquaredUpdateAvgBuffers = allocStateBuffers(params)
	}
	if err := checkParamCount(ad.SquaredGradAvgBuffers, params); err != nil {
		return err
	}

	ad.StepCount++

	for i, p := range params {
		gAvg := ad.SquaredGradAvgBuffers[i]
		uAvg := ad.SquaredUpdateAvgBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if ad.WeightDecay > 0 {
				g += ad.WeightDecay * p.Data[j]
			}
			gAvg[j] = ad.Rho*gAvg[j] + (1-ad.Rho)*g*g
			update := math.Sqrt(uAvg[j]+ad.Epsilon) / math.Sqrt(gAvg[j]+ad.Epsilon) * g
			uAvg[j] = ad.Rho*uAvg[j] + (1-ad.Rho)*update*update
			p.Data[j] -= ad.LearningRate * update
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (ad *AdaDeltaOptimizer) UpdateLearningRate(newLR float64) {
	ad.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (ad *AdaDeltaOptimizer) GetLearningRate() float64 {
	return ad.LearningRate
}

// GetStepCount returns the current step count
func (ad *AdaDeltaOptimizer) GetStepCount() uint64 {
	return ad.StepCount
}

// Name returns the optimizer kind
func (ad *AdaDeltaOptimizer) Name() string {
	return "AdaDelta"
}

// GetState extracts optimizer state for checkpointing
func (ad *AdaDeltaOptimizer) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	for i, buffer := range ad.SquaredGradAvgBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("squared_grad_avg_%d", i), "squared_grad_avg")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}
	for i, buffer := range ad.SquaredUpdateAvgBuffers {
		tensor := extractBufferState(buffer, fmt.Sprintf("squared_update_avg_%d", i), "squared_update_avg")
		if tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "AdaDelta",
		Parameters: map[string]interface{}{
			"learning_rate": ad.LearningRate,
			"rho":           ad.Rho,
			"epsilon":       ad.Epsilon,
			"weight_decay":  ad.WeightDecay,
			"step_count":    ad.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (ad *AdaDeltaOptimizer) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaDelta", state); err != nil {
		return err
	}

	ad.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", ad.LearningRate)
	ad.Rho = extractFloat64Param(state.Parameters, "rho", ad.Rho)
	ad.Epsilon = extractFloat64Param(state.Parameters, "epsilon", ad.Epsilon)
	ad.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", ad.WeightDecay)
	ad.StepCount = extractUint64Param(state.Parameters, "step_count", ad.StepCount)

	if err := restoreBuffersByType(&ad.SquaredGradAvgBuffers, state, "squared_grad_avg"); err != nil {
		return err
	}
	return restoreBuffersByType(&ad.SquaredUpdateAvgBuffers, state, "squared_update_avg")
}
