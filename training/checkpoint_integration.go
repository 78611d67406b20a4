package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/layers"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/optimizer"
)

// CheckpointConfig configures checkpoint saving behavior.
type CheckpointConfig struct {
	SaveDirectory   string                       // directory to save checkpoints into
	SaveFrequency   int                          // save every N epochs (0 = disabled)
	SaveBest        bool                         // save a checkpoint when validation improves
	MaxCheckpoints  int                          // maximum periodic checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON or binary
	FilenamePattern string                       // fmt pattern over (epoch, validation loss)
}

// DefaultCheckpointConfig returns a sensible default configuration.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		SaveFrequency:   5,
		SaveBest:        true,
		MaxCheckpoints:  10,
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "checkpoint_epoch_%04d_val_%.4f",
	}
}

// CheckpointManager saves and restores full training state: model weights,
// optimizer buffers and learning rate.
type CheckpointManager struct {
	config     CheckpointConfig
	network    *engine.Network
	opt        optimizer.Optimizer
	saver      *checkpoints.CheckpointSaver
	bestLoss   float64
	savedFiles []string
	log        *logging.Logger
}

// NewCheckpointManager creates a checkpoint manager for the given network
// and optimizer pair.
func NewCheckpointManager(network *engine.Network, opt optimizer.Optimizer, config CheckpointConfig, log *logging.Logger) *CheckpointManager {
	if log == nil {
		log = logging.Noop()
	}
	return &CheckpointManager{
		config:   config,
		network:  network,
		opt:      opt,
		saver:    checkpoints.NewCheckpointSaver(config.Format),
		bestLoss: 1e9,
		log:      log,
	}
}

// SaveCheckpoint saves the current training state and returns the path the
// checkpoint was written to.
func (cm *CheckpointManager) SaveCheckpoint(epoch int, loss, valLoss float64, description string) (string, error) {
	checkpoint, err := cm.buildCheckpoint(epoch, loss, description)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %v", err)
	}

	filename := cm.generateFilename(epoch, valLoss)
	path := filepath.Join(cm.config.SaveDirectory, filename)

	if err := cm.ensureDirectory(); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %v", err)
	}

	cm.savedFiles = append(cm.savedFiles, path)

	if err := cm.cleanupOldCheckpoints(); err != nil {
		cm.log.Warn("failed to cleanup old checkpoints", "error", err)
	}

	return path, nil
}

// SaveBestCheckpoint saves a checkpoint when validation loss improves on
// the best seen so far. It reports whether a save happened.
func (cm *CheckpointManager) SaveBestCheckpoint(epoch int, loss, valLoss float64) (bool, error) {
	if !cm.config.SaveBest {
		return false, nil
	}
	if valLoss >= cm.bestLoss {
		return false, nil
	}
	cm.bestLoss = valLoss

	description := fmt.Sprintf("Best checkpoint - val_loss: %.6f", valLoss)
	path := filepath.Join(cm.config.SaveDirectory, "best"+cm.config.Format.Ext())

	checkpoint, err := cm.buildCheckpoint(epoch, loss, description)
	if err != nil {
		return false, fmt.Errorf("failed to create best checkpoint: %v", err)
	}
	if err := cm.ensureDirectory(); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return false, fmt.Errorf("failed to save best checkpoint: %v", err)
	}
	return true, nil
}

// SavePeriodicCheckpoint saves a checkpoint when the 1-based epoch lands on
// the configured frequency. It reports whether a save happened.
func (cm *CheckpointManager) SavePeriodicCheckpoint(epoch int, loss, valLoss float64) (bool, error) {
	if cm.config.SaveFrequency <= 0 {
		return false, nil
	}
	if epoch%cm.config.SaveFrequency != 0 {
		return false, nil
	}
	description := fmt.Sprintf("Periodic checkpoint - Epoch %d", epoch)
	if _, err := cm.SaveCheckpoint(epoch, loss, valLoss, description); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCheckpoint restores model weights, optimizer state and learning rate
// from a checkpoint file. The checkpoint's architecture must match the
// manager's network.
func (cm *CheckpointManager) LoadCheckpoint(path string) error {
	checkpoint, err := checkpoints.LoadAuto(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %v", err)
	}
	return cm.restore(checkpoint)
}

func (cm *CheckpointManager) restore(checkpoint *checkpoints.Checkpoint) error {
	if !cm.modelsCompatible(cm.network.Spec(), checkpoint.ModelSpec) {
		return fmt.Errorf("checkpoint model architecture incompatible with current network")
	}

	if err := checkpoints.ApplyWeights(checkpoint.Weights, cm.network); err != nil {
		return fmt.Errorf("failed to load weights: %v", err)
	}

	cm.bestLoss = checkpoint.TrainingState.BestLoss
	if lr := checkpoint.TrainingState.LearningRate; lr > 0 {
		cm.opt.UpdateLearningRate(lr)
	}

	if checkpoint.OptimizerState != nil {
		if err := cm.opt.LoadState(optimizer.FromCheckpoint(checkpoint.OptimizerState)); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}

	return nil
}

func (cm *CheckpointManager) buildCheckpoint(epoch int, loss float64, description string) (*checkpoints.Checkpoint, error) {
	spec := cm.network.Spec()
	if spec == nil {
		return nil, fmt.Errorf("network has no model specification")
	}

	weights := checkpoints.ExtractWeights(cm.network.Parameters())

	var optimizerState *checkpoints.OptimizerState
	if state, err := cm.opt.GetState(); err == nil && state != nil {
		optimizerState = state.ToCheckpoint()
	}

	return &checkpoints.Checkpoint{
		ModelSpec: spec,
		Weights:   weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         int(cm.opt.GetStepCount()),
			LearningRate: cm.opt.GetLearningRate(),
			BestLoss:     cm.bestLoss,
			TotalSteps:   int(cm.opt.GetStepCount()),
		},
		OptimizerState: optimizerState,
		Metadata: checkpoints.CheckpointMetadata{
			Description: description,
			Tags:        []string{fmt.Sprintf("epoch_%d", epoch), fmt.Sprintf("loss_%.6f", loss)},
		},
	}, nil
}

func (cm *CheckpointManager) generateFilename(epoch int, valLoss float64) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%04d_val_%.4f"
	}
	return fmt.Sprintf(pattern, epoch, valLoss) + cm.config.Format.Ext()
}

func (cm *CheckpointManager) ensureDirectory() error {
	return os.MkdirAll(cm.config.SaveDirectory, 0o755)
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 {
		return nil
	}

	if len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil
	}

	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %v", cm.savedFiles[i], err)
		}
	}

	cm.savedFiles = cm.savedFiles[toRemove:]

	return nil
}

func (cm *CheckpointManager) modelsCompatible(model1, model2 *layers.ModelSpec) bool {
	if model1 == nil || model2 == nil {
		return false
	}
	if len(model1.Layers) != len(model2.Layers) {
		return false
	}

	for i, layer1 := range model1.Layers {
		layer2 := model2.Layers[i]

		if layer1.Type != layer2.Type {
			return false
		}

		if len(layer1.ParameterShapes) != len(layer2.ParameterShapes) {
			return false
		}

		for j, shape1 := range layer1.ParameterShapes {
			shape2 := layer2.ParameterShapes[j]
			if len(shape1) != len(shape2) {
				return false
			}
			for k, dim1 := range shape1 {
				if dim1 != shape2[k] {
					return false
				}
			}
		}
	}

	return true
}
