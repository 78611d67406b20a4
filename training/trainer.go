package training

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/dataset"
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/optimizer"
)

// FitConfig holds the configuration for one training run.
type FitConfig struct {
	Epochs    int
	BatchSize int
	// Shuffle re-randomizes sample order each epoch. Keep it off for
	// stateful sequence models, whose batches must stay in dataset order.
	Shuffle bool
	// Seed drives batch shuffling.
	Seed int64
	// Criterion scores training batches.
	Criterion engine.Loss
	// Callbacks observe the run in the order given.
	Callbacks []Callback
	// Validation, when present, is scored after every epoch.
	Validation *ValidationData
	// Params is recorded on the run handle for callbacks and manifests.
	Params map[string]interface{}
}

// ValidationData is a held-out split scored once per epoch.
type ValidationData struct {
	Features *dataset.Array
	Labels   *dataset.Array
	// Starts marks where each validation sequence begins, for
	// per-sequence metric breakdown.
	Starts []int
}

// Session runs training for one model and optimizer pair.
type Session struct {
	identifier string
	network    *engine.Network
	opt        optimizer.Optimizer
	log        *logging.Logger
}

// NewSession creates a training session. A nil logger disables progress
// logging.
func NewSession(identifier string, network *engine.Network, opt optimizer.Optimizer, log *logging.Logger) *Session {
	if log == nil {
		log = logging.Noop()
	}
	return &Session{
		identifier: identifier,
		network:    network,
		opt:        opt,
		log:        log.WithRun(identifier),
	}
}

// Network returns the session's network.
func (s *Session) Network() *engine.Network { return s.network }

// Optimizer returns the session's optimizer.
func (s *Session) Optimizer() optimizer.Optimizer { return s.opt }

// Fit trains the network on the given features and labels. Labels are
// rerouted into a secondary model input when the network's loss head
// consumes them directly; the criterion then scores the head's output
// against a zero placeholder. Callbacks fire in registration order and can
// stop the run between epochs.
func (s *Session) Fit(features, labels *dataset.Array, config FitConfig) (*History, error) {
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.Criterion == nil {
		return nil, fmt.Errorf("criterion is required")
	}

	inputs, target := routeForNetwork(s.network, features, labels)
	loader, err := NewDataLoader(inputs, target, config.BatchSize, config.Shuffle, config.Seed)
	if err != nil {
		return nil, err
	}

	run := &Run{
		Identifier:      s.identifier,
		Network:         s.network,
		Optimizer:       s.opt,
		Epochs:          config.Epochs,
		BatchSize:       config.BatchSize,
		BatchesPerEpoch: loader.Len(),
		Params:          config.Params,
	}
	callbacks := NewCallbackList(config.Callbacks...)

	s.log.Info("training started",
		"epochs", config.Epochs,
		"batch_size", config.BatchSize,
		"samples", loader.Samples(),
		"optimizer", s.opt.Name(),
		"stateful", s.network.Stateful())

	if err := callbacks.OnTrainBegin(run); err != nil {
		return nil, err
	}

	history := &History{}
	for epoch := 1; epoch <= config.Epochs; epoch++ {
		epochStart := time.Now()

		loader.Reset()
		var totalLoss float64
		var totalSamples, batchIdx int
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				return history, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			if batch == nil {
				break
			}
			loss, err := s.network.TrainStep(batch.Inputs, batch.AuxLabels, batch.Target, config.Criterion, s.opt)
			if err != nil {
				return history, fmt.Errorf("epoch %d, batch %d: %w", epoch, batchIdx+1, err)
			}
			totalLoss += loss * float64(batch.Size)
			totalSamples += batch.Size
			batchIdx++

			if err := callbacks.OnBatchEnd(batchIdx, &BatchLogs{Loss: loss, Size: batch.Size}, run); err != nil {
				return history, err
			}
		}

		logs := &EpochLogs{
			Loss:         totalLoss / float64(totalSamples),
			ValLoss:      math.NaN(),
			LearningRate: s.opt.GetLearningRate(),
		}
		if config.Validation != nil {
			valLoss, err := s.validationLoss(config.Validation, config.BatchSize, config.Criterion)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			logs.ValLoss = valLoss
		}

		if err := callbacks.OnEpochEnd(epoch, logs, run); err != nil {
			return history, err
		}
		history.append(*logs)

		s.log.Info("epoch complete",
			"epoch", epoch,
			"loss", logs.Loss,
			"val_loss", logs.ValLoss,
			"lr", logs.LearningRate,
			"duration", time.Since(epochStart).Round(time.Millisecond))

		if run.StopTraining {
			s.log.Info("training stopped by callback", "epoch", epoch)
			break
		}
	}

	s.network.Eval()
	return history, nil
}

// validationLoss scores the validation split in dataset order. Stateful
// networks have their carried state cleared when the pass starts so the
// score does not depend on where training left off.
func (s *Session) validationLoss(v *ValidationData, batchSize int, criterion engine.Loss) (float64, error) {
	if v.Features == nil || v.Labels == nil {
		return 0, fmt.Errorf("validation features and labels are required")
	}
	n := v.Features.Rows()
	if v.Labels.Rows() != n {
		return 0, fmt.Errorf("validation labels have %d rows, features have %d", v.Labels.Rows(), n)
	}

	if s.network.Stateful() {
		s.network.ResetStates()
	}

	var totalLoss float64
	for begin := 0; begin < n; begin += batchSize {
		end := begin + batchSize
		if end > n {
			end = n
		}
		features := v.Features.SliceRows(begin, end)
		labels := v.Labels.SliceRows(begin, end)

		inputs, target := routeForNetwork(s.network, features, labels)
		loss, err := s.network.EvalLoss(
			denseFromArray(inputs.Main()),
			denseOrNil(inputs.AuxLabels()),
			denseFromArray(target),
			criterion,
		)
		if err != nil {
			return 0, err
		}
		totalLoss += loss * float64(end-begin)
	}
	return totalLoss / float64(n), nil
}

// routeForNetwork prepares inputs and the training target for the
// network's loss arrangement.
func routeForNetwork(net *engine.Network, features, labels *dataset.Array) (dataset.Inputs, *dataset.Array) {
	if net.HasAuxHead() {
		return dataset.Route(features, labels)
	}
	return dataset.Plain(features), labels
}

func denseOrNil(a *dataset.Array) *mat.Dense {
	if a == nil {
		return nil
	}
	return denseFromArray(a)
}
