package training

import "math"

// History accumulates per-epoch results over a training run.
type History struct {
	// Epochs holds one entry per completed epoch, in order.
	Epochs []EpochLogs
}

// Len returns the number of completed epochs.
func (h *History) Len() int { return len(h.Epochs) }

// FinalLoss returns the training loss of the last completed epoch, or NaN
// when no epoch completed.
func (h *History) FinalLoss() float64 {
	if len(h.Epochs) == 0 {
		return math.NaN()
	}
	return h.Epochs[len(h.Epochs)-1].Loss
}

// BestValLoss returns the lowest validation loss seen across all epochs,
// or NaN when no epoch recorded one.
func (h *History) BestValLoss() float64 {
	best := math.NaN()
	for _, e := range h.Epochs {
		if math.IsNaN(e.ValLoss) {
			continue
		}
		if math.IsNaN(best) || e.ValLoss < best {
			best = e.ValLoss
		}
	}
	return best
}

func (h *History) append(logs EpochLogs) {
	h.Epochs = append(h.Epochs, logs)
}
