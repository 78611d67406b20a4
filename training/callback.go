// Package training drives model optimization runs. A Session owns one
// training run: it batches data, steps the optimizer, computes validation
// loss, and notifies callbacks that log metrics, save checkpoints, schedule
// learning rates, reset recurrent state and stop training early.
package training

import (
	"fmt"

	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/optimizer"
)

// Run is the handle callbacks receive for the training run in progress.
// All run state lives here; callbacks must not retain it across runs.
type Run struct {
	// Identifier names the run, typically rendered from the drawn
	// hyperparameters.
	Identifier string

	// Network and Optimizer are the live training objects.
	Network   *engine.Network
	Optimizer optimizer.Optimizer

	// Epochs and BatchSize echo the fit configuration. BatchesPerEpoch is
	// the number of optimizer steps one epoch takes.
	Epochs          int
	BatchSize       int
	BatchesPerEpoch int

	// Params carries the hyperparameter values the run was built from,
	// for logging and manifests.
	Params map[string]interface{}

	// StopTraining is set by callbacks to end the run after the current
	// epoch completes.
	StopTraining bool
}

// EpochLogs carries the aggregate results of one epoch.
type EpochLogs struct {
	// Loss is the average training loss over the epoch.
	Loss float64
	// ValLoss is the loss over the validation set, NaN when the run has
	// no validation data.
	ValLoss float64
	// LearningRate is the optimizer's learning rate during the epoch.
	LearningRate float64
	// Metrics holds named metric values computed by callbacks earlier in
	// the registration order.
	Metrics map[string]float64
}

// BatchLogs carries the results of one training batch.
type BatchLogs struct {
	// Loss is the batch training loss.
	Loss float64
	// Size is the number of samples in the batch.
	Size int
}

// Callback observes a training run. Events fire synchronously on the
// training goroutine in registration order: OnTrainBegin once before the
// first epoch, OnBatchEnd after every optimizer step, and OnEpochEnd after
// each epoch's validation pass. Epoch and batch numbers are 1-based.
type Callback interface {
	OnTrainBegin(run *Run) error
	OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error
	OnBatchEnd(batch int, logs *BatchLogs, run *Run) error
}

// CallbackList dispatches events to callbacks in registration order.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList builds a dispatch list. Order is preserved: the first
// registered callback sees every event first.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	list := &CallbackList{}
	for _, cb := range callbacks {
		list.Add(cb)
	}
	return list
}

// Add appends a callback, ignoring nil entries so optional callbacks can
// be passed through unconditionally.
func (cl *CallbackList) Add(cb Callback) {
	if cb != nil {
		cl.callbacks = append(cl.callbacks, cb)
	}
}

// Len returns the number of registered callbacks.
func (cl *CallbackList) Len() int { return len(cl.callbacks) }

// OnTrainBegin notifies all callbacks, stopping at the first error.
func (cl *CallbackList) OnTrainBegin(run *Run) error {
	for _, cb := range cl.callbacks {
		if err := cb.OnTrainBegin(run); err != nil {
			return fmt.Errorf("callback %T: %w", cb, err)
		}
	}
	return nil
}

// OnEpochEnd notifies all callbacks, stopping at the first error.
func (cl *CallbackList) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	for _, cb := range cl.callbacks {
		if err := cb.OnEpochEnd(epoch, logs, run); err != nil {
			return fmt.Errorf("callback %T: %w", cb, err)
		}
	}
	return nil
}

// OnBatchEnd notifies all callbacks, stopping at the first error.
func (cl *CallbackList) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	for _, cb := range cl.callbacks {
		if err := cb.OnBatchEnd(batch, logs, run); err != nil {
			return fmt.Errorf("callback %T: %w", cb, err)
		}
	}
	return nil
}
