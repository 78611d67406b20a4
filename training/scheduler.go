package training

import (
	"math"

	"github.com/tsawler/go-pose/logging"
)

// LRScheduler computes the learning rate for a given point in training.
// Implementations other than ReduceLROnPlateauScheduler are pure functions
// of their inputs.
type LRScheduler interface {
	// GetLR returns the learning rate for the given 0-based epoch.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// StepLRScheduler reduces the learning rate by a factor every stepSize
// epochs.
type StepLRScheduler struct {
	StepSize int     // epochs between LR reductions
	Gamma    float64 // multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays the learning rate exponentially.
type ExponentialLRScheduler struct {
	Gamma float64 // multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler.
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler anneals the learning rate along a cosine curve
// from baseLR down to EtaMin over TMax epochs.
type CosineAnnealingLRScheduler struct {
	TMax   int     // epochs in one annealing cycle
	EtaMin float64 // minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler.
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces the learning rate when a monitored
// metric has stopped improving. Unlike the other schedulers it is stateful:
// Step must be called once per epoch with the metric value.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // factor by which the learning rate is reduced
	Patience  int     // epochs with no improvement before reduction
	Threshold float64 // threshold for measuring a new optimum
	Mode      string  // one of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler.
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}

	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step records the epoch's metric and returns the learning rate to use
// from the next epoch on.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// reset clears plateau tracking so the scheduler can serve a fresh run.
func (s *ReduceLROnPlateauScheduler) reset() {
	s.bestMetric = 0
	s.badEpochs = 0
	s.currentLR = 0
	s.initialized = false
}

// NoOpScheduler maintains a constant learning rate.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// LearningRateScheduler is a callback that applies an LRScheduler to the
// run's optimizer at epoch boundaries. The base learning rate is captured
// from the optimizer when training begins; plateau schedulers are driven by
// the epoch's validation loss instead of the epoch index.
type LearningRateScheduler struct {
	Scheduler LRScheduler

	baseLR float64
	log    *logging.Logger
}

// NewLearningRateScheduler wraps a scheduler as a callback. A nil logger
// disables LR change logging.
func NewLearningRateScheduler(scheduler LRScheduler, log *logging.Logger) *LearningRateScheduler {
	if log == nil {
		log = logging.Noop()
	}
	return &LearningRateScheduler{Scheduler: scheduler, log: log}
}

// OnTrainBegin captures the base learning rate and applies the epoch-0
// schedule value.
func (c *LearningRateScheduler) OnTrainBegin(run *Run) error {
	c.baseLR = run.Optimizer.GetLearningRate()
	if p, ok := c.Scheduler.(*ReduceLROnPlateauScheduler); ok {
		p.reset()
		return nil
	}
	run.Optimizer.UpdateLearningRate(c.Scheduler.GetLR(0, 0, c.baseLR))
	return nil
}

// OnEpochEnd sets the learning rate the next epoch will train with. Epochs
// are 1-based here, so the epoch just finished is the schedule's next index.
func (c *LearningRateScheduler) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	current := run.Optimizer.GetLearningRate()
	var next float64
	if p, ok := c.Scheduler.(*ReduceLROnPlateauScheduler); ok {
		next = p.Step(logs.ValLoss, current)
	} else {
		next = c.Scheduler.GetLR(epoch, 0, c.baseLR)
	}
	if next != current {
		c.log.Info("learning rate updated",
			"scheduler", c.Scheduler.GetName(),
			"epoch", epoch,
			"lr", next)
		run.Optimizer.UpdateLearningRate(next)
	}
	return nil
}

// OnBatchEnd is a no-op; schedules here operate at epoch granularity.
func (c *LearningRateScheduler) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	return nil
}
