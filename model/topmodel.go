// Package model assembles trainable pose-regression networks: a regression
// head over pre-extracted backbone features, one of a closed set of head
// families, paired with a closed set of losses. The Factory implements the
// search driver's model-factory contract, validating each drawn
// hyperparameter assignment before any layers are built.
package model

import (
	"errors"
	"fmt"
)

// TopModelType enumerates the regression heads that sit on top of the
// pre-extracted backbone features. The set is closed; ParseTopModel rejects
// anything else.
type TopModelType int

const (
	// TopModelRegressor is a feed-forward head over flat feature vectors.
	TopModelRegressor TopModelType = iota
	// TopModelSpatialLSTM splits each flat feature vector into a spatial
	// sequence and runs an LSTM across it.
	TopModelSpatialLSTM
	// TopModelStandardLSTM consumes pre-windowed temporal sequences,
	// resetting LSTM state after every batch.
	TopModelStandardLSTM
	// TopModelStatefulLSTM carries LSTM state across batches until the
	// reset coordinator clears it at true sequence boundaries.
	TopModelStatefulLSTM
)

// ErrUnknownTopModel indicates a top-model tag outside the closed set.
var ErrUnknownTopModel = errors.New("model: unknown top model")

// ParseTopModel resolves a top-model tag.
func ParseTopModel(s string) (TopModelType, error) {
	switch s {
	case "regressor":
		return TopModelRegressor, nil
	case "spatial-lstm":
		return TopModelSpatialLSTM, nil
	case "standard-lstm":
		return TopModelStandardLSTM, nil
	case "stateful-lstm":
		return TopModelStatefulLSTM, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTopModel, s)
}

func (t TopModelType) String() string {
	switch t {
	case TopModelRegressor:
		return "regressor"
	case TopModelSpatialLSTM:
		return "spatial-lstm"
	case TopModelStandardLSTM:
		return "standard-lstm"
	case TopModelStatefulLSTM:
		return "stateful-lstm"
	default:
		return "unknown"
	}
}

// Recurrent reports whether the head contains an LSTM and therefore needs a
// sequence length.
func (t TopModelType) Recurrent() bool {
	return t == TopModelSpatialLSTM || t == TopModelStandardLSTM || t == TopModelStatefulLSTM
}

// Stateful reports whether LSTM state survives across batches.
func (t TopModelType) Stateful() bool { return t == TopModelStatefulLSTM }

// MultiSource reports whether the head trains on several concatenated
// source files with per-sequence starting indices, rather than one
// pre-windowed array per split.
func (t TopModelType) MultiSource() bool {
	return t == TopModelRegressor || t == TopModelSpatialLSTM
}

// TopModels lists the valid tags.
func TopModels() []string {
	return []string{"regressor", "spatial-lstm", "standard-lstm", "stateful-lstm"}
}
