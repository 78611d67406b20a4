package training

import (
	"fmt"
	"path/filepath"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/logging"
)

// checkpointSubdir is the directory under a run's output directory where
// epoch checkpoints accumulate.
const checkpointSubdir = "checkpoints"

// weightsFilenamePattern names epoch checkpoints by epoch number and
// validation loss.
const weightsFilenamePattern = "weights.%04d-%.4f"

// ModelCheckpoint saves the full training state every SavePeriod epochs.
// Files land in a checkpoints subdirectory of the run directory, named by
// 1-based epoch and validation loss; earlier checkpoints are never removed,
// so a finished run retains its whole saved trajectory.
type ModelCheckpoint struct {
	// RunDir is the run's output directory.
	RunDir string
	// SavePeriod is the number of epochs between saves; zero or less
	// disables saving.
	SavePeriod int
	// Format selects the on-disk checkpoint encoding.
	Format checkpoints.CheckpointFormat

	manager *CheckpointManager
	log     *logging.Logger
}

// NewModelCheckpoint creates the callback. A nil logger disables save
// logging.
func NewModelCheckpoint(runDir string, savePeriod int, format checkpoints.CheckpointFormat, log *logging.Logger) *ModelCheckpoint {
	if log == nil {
		log = logging.Noop()
	}
	return &ModelCheckpoint{
		RunDir:     runDir,
		SavePeriod: savePeriod,
		Format:     format,
		log:        log,
	}
}

// Dir returns the directory checkpoints are written into.
func (mc *ModelCheckpoint) Dir() string {
	return filepath.Join(mc.RunDir, checkpointSubdir)
}

// OnTrainBegin binds a checkpoint manager to the run's network and
// optimizer and creates the checkpoint directory.
func (mc *ModelCheckpoint) OnTrainBegin(run *Run) error {
	mc.manager = NewCheckpointManager(run.Network, run.Optimizer, CheckpointConfig{
		SaveDirectory:   mc.Dir(),
		Format:          mc.Format,
		FilenamePattern: weightsFilenamePattern,
	}, mc.log)
	if err := mc.manager.ensureDirectory(); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	return nil
}

// OnEpochEnd saves a checkpoint when the 1-based epoch lands on the save
// period.
func (mc *ModelCheckpoint) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	if mc.SavePeriod <= 0 || epoch%mc.SavePeriod != 0 {
		return nil
	}
	description := fmt.Sprintf("Epoch %d - val_loss: %.6f", epoch, logs.ValLoss)
	path, err := mc.manager.SaveCheckpoint(epoch, logs.Loss, logs.ValLoss, description)
	if err != nil {
		return err
	}
	mc.log.Info("checkpoint saved", "epoch", epoch, "path", path)
	return nil
}

// OnBatchEnd is a no-op; checkpoints are written per epoch.
func (mc *ModelCheckpoint) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	return nil
}
