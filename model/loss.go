package model

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-pose/engine"
)

// LossType enumerates the training objectives. The set is closed; ParseLoss
// rejects anything else.
type LossType int

const (
	// LossNaiveWeighted is mean squared position error plus beta times
	// mean squared orientation error, with beta drawn per iteration.
	LossNaiveWeighted LossType = iota
	// LossHomoscedastic learns the position/orientation weighting through
	// trainable log-variances in a dedicated head. True labels reach the
	// head as a secondary model input; the external target is a zero
	// placeholder.
	LossHomoscedastic
)

// ErrUnknownLoss indicates a loss tag outside the closed set.
var ErrUnknownLoss = errors.New("model: unknown loss")

// Initial log-variances for the homoscedastic head. Position error starts
// unscaled; orientation starts weighted up by e^3.
const (
	initSPos  = 0.0
	initSQuat = -3.0
)

// ParseLoss resolves a loss tag.
func ParseLoss(s string) (LossType, error) {
	switch s {
	case "naive-weighted":
		return LossNaiveWeighted, nil
	case "homoscedastic":
		return LossHomoscedastic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLoss, s)
}

func (l LossType) String() string {
	switch l {
	case LossNaiveWeighted:
		return "naive-weighted"
	case LossHomoscedastic:
		return "homoscedastic"
	default:
		return "unknown"
	}
}

// RequiresAuxiliaryInput reports whether true labels must be rerouted into
// the model as a secondary input because the loss lives inside the graph.
func (l LossType) RequiresAuxiliaryInput() bool { return l == LossHomoscedastic }

// Criterion returns the engine loss scoring training batches. The
// homoscedastic head already emits per-sample losses, so its criterion just
// reduces them; beta is ignored in that case.
func (l LossType) Criterion(beta float64) engine.Loss {
	if l == LossHomoscedastic {
		return engine.NewAuxHeadLoss()
	}
	return engine.NewNaiveWeightedLoss(beta, positionDims)
}

// Losses lists the valid tags.
func Losses() []string { return []string{"naive-weighted", "homoscedastic"} }
