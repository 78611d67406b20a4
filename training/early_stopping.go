package training

import (
	"math"

	"github.com/tsawler/go-pose/logging"
)

// DefaultPatience is the number of non-improving epochs EarlyStopping
// tolerates before stopping a run.
const DefaultPatience = 7

// EarlyStopping stops a run once validation loss has not improved for
// Patience consecutive epochs. Improvement means dropping below the best
// value seen so far by more than MinDelta. All tracking state resets when
// a run begins, so one instance can serve consecutive runs.
type EarlyStopping struct {
	MinDelta float64
	Patience int

	best float64
	wait int
	log  *logging.Logger
}

// NewEarlyStopping creates the callback with the default patience. A nil
// logger disables stop logging.
func NewEarlyStopping(minDelta float64, patience int, log *logging.Logger) *EarlyStopping {
	if patience <= 0 {
		patience = DefaultPatience
	}
	if log == nil {
		log = logging.Noop()
	}
	return &EarlyStopping{
		MinDelta: minDelta,
		Patience: patience,
		log:      log,
	}
}

// OnTrainBegin resets improvement tracking for the new run.
func (es *EarlyStopping) OnTrainBegin(run *Run) error {
	es.best = math.Inf(1)
	es.wait = 0
	return nil
}

// OnEpochEnd compares the epoch's validation loss against the best seen and
// raises the run's stop flag after Patience epochs without improvement.
func (es *EarlyStopping) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	v := logs.ValLoss
	if math.IsNaN(v) {
		return nil
	}
	if v < es.best-es.MinDelta {
		es.best = v
		es.wait = 0
		return nil
	}
	es.wait++
	if es.wait >= es.Patience {
		es.log.Info("early stopping",
			"epoch", epoch,
			"best_val_loss", es.best,
			"patience", es.Patience)
		run.StopTraining = true
	}
	return nil
}

// OnBatchEnd is a no-op; stopping decisions are made per epoch.
func (es *EarlyStopping) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	return nil
}
