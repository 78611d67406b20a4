package search

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsawler/go-pose/training"
)

func TestManifestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	finished := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	best := 0.125

	m := &Manifest{
		SessionID: "session-1",
		Desc:      "lr{lr:.2e}",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Runs: []RunRecord{
			{
				ID:              "run-1",
				Identifier:      "lr1.00e-03",
				Hyperparameters: map[string]string{"lr": "0.001"},
				Status:          StatusFinished,
				EpochsRun:       10,
				BestValLoss:     &best,
				StartedAt:       m0(t),
				FinishedAt:      &finished,
			},
			{
				ID:         "run-2",
				Identifier: "lr2.00e-03",
				Status:     StatusRunning,
				StartedAt:  m0(t),
			},
		},
	}
	if err := m.write(dir); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got Manifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.SessionID != "session-1" || got.Desc != "lr{lr:.2e}" {
		t.Errorf("session header = %q/%q", got.SessionID, got.Desc)
	}
	if len(got.Runs) != 2 {
		t.Fatalf("manifest has %d runs, want 2", len(got.Runs))
	}
	if got.Runs[0].Status != StatusFinished || got.Runs[0].EpochsRun != 10 {
		t.Errorf("run 1 = %+v", got.Runs[0])
	}
	if got.Runs[0].BestValLoss == nil || *got.Runs[0].BestValLoss != best {
		t.Errorf("run 1 best val loss = %v, want %v", got.Runs[0].BestValLoss, best)
	}
	if got.Runs[1].Status != StatusRunning {
		t.Errorf("run 2 status = %q, want RUNNING", got.Runs[1].Status)
	}
	if got.Runs[1].FinishedAt != nil || got.Runs[1].BestValLoss != nil {
		t.Error("an unfinished run should omit finished_at and best_val_loss")
	}
}

func m0(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestDisplayAssignment(t *testing.T) {
	a := Assignment{
		"lr":          0.001,
		"hidden":      512,
		"opt":         "adam",
		LRModifierKey: LRModifier(func(Assignment) (training.Callback, error) { return nil, nil }),
	}

	got := displayAssignment(a)
	if got["lr"] != "0.001" || got["hidden"] != "512" || got["opt"] != "adam" {
		t.Errorf("displayAssignment = %v", got)
	}
	if got[LRModifierKey] != "<lr-modifier>" {
		t.Errorf("modifier rendered as %q, want <lr-modifier>", got[LRModifierKey])
	}
}

func TestBestValLoss(t *testing.T) {
	if got := bestValLoss(nil); got != nil {
		t.Errorf("bestValLoss(nil) = %v, want nil", got)
	}

	noVal := &training.History{Epochs: []training.EpochLogs{{Loss: 1, ValLoss: math.NaN()}}}
	if got := bestValLoss(noVal); got != nil {
		t.Errorf("bestValLoss without validation = %v, want nil", got)
	}

	h := &training.History{Epochs: []training.EpochLogs{
		{ValLoss: 0.5},
		{ValLoss: 0.2},
		{ValLoss: 0.3},
	}}
	got := bestValLoss(h)
	if got == nil || *got != 0.2 {
		t.Errorf("bestValLoss = %v, want 0.2", got)
	}
}

func TestBasicCollector(t *testing.T) {
	var c BasicCollector
	c.RunStarted()
	c.RunStarted()
	c.RunStarted()
	c.RunFinished(10)
	c.RunFinished(4)
	c.RunFailed()

	if c.RunsStarted() != 3 {
		t.Errorf("RunsStarted = %d, want 3", c.RunsStarted())
	}
	if c.RunsFinished() != 2 {
		t.Errorf("RunsFinished = %d, want 2", c.RunsFinished())
	}
	if c.RunsFailed() != 1 {
		t.Errorf("RunsFailed = %d, want 1", c.RunsFailed())
	}
	if c.EpochsRun() != 14 {
		t.Errorf("EpochsRun = %d, want 14", c.EpochsRun())
	}
}
