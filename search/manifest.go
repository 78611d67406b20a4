package search

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-pose/training"
)

// ManifestName is the session manifest file written under the output root.
const ManifestName = "search_session.json"

// RunStatus tracks a search iteration through its lifecycle.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusStopped  RunStatus = "STOPPED"
	StatusFailed   RunStatus = "FAILED"
)

// RunRecord is one search iteration's entry in the session manifest.
type RunRecord struct {
	ID              string            `json:"id"`
	Identifier      string            `json:"identifier"`
	Hyperparameters map[string]string `json:"hyperparameters"`
	Status          RunStatus         `json:"status"`
	EpochsRun       int               `json:"epochs_run"`
	BestValLoss     *float64          `json:"best_val_loss,omitempty"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// Manifest records one search session and all its runs. The driver rewrites
// it after every status change, so a crash leaves the last known state of
// every run on disk.
type Manifest struct {
	SessionID string      `json:"session_id"`
	Desc      string      `json:"desc"`
	StartedAt time.Time   `json:"started_at"`
	Runs      []RunRecord `json:"runs"`
}

func (m *Manifest) write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session manifest: %v", err)
	}
	return nil
}

// displayAssignment renders a draw for the manifest. Values go through
// fmt.Sprint except modifiers, which have no useful textual form.
func displayAssignment(a Assignment) map[string]string {
	out := make(map[string]string, len(a))
	for k, v := range a {
		if _, ok := v.(LRModifier); ok {
			out[k] = "<lr-modifier>"
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// bestValLoss extracts a history's best validation loss in a form JSON can
// carry. NaN (no validation ran) becomes an absent field.
func bestValLoss(h *training.History) *float64 {
	if h == nil {
		return nil
	}
	best := h.BestValLoss()
	if math.IsNaN(best) {
		return nil
	}
	return &best
}
