package training

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressBarRendersState(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar("Epoch 1/3", 10, &buf)

	pb.Update(5, map[string]float64{"loss": 0.5})
	out := buf.String()
	if !strings.Contains(out, "Epoch 1/3") {
		t.Errorf("output missing description: %q", out)
	}
	if !strings.Contains(out, " 50%") {
		t.Errorf("output missing percentage: %q", out)
	}
	if !strings.Contains(out, "5/10") {
		t.Errorf("output missing step counter: %q", out)
	}
	if !strings.Contains(out, "loss=0.5000") {
		t.Errorf("output missing metric: %q", out)
	}

	pb.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish should terminate the line")
	}
	if !strings.Contains(buf.String(), "10/10") {
		t.Error("Finish should complete the counter")
	}
}

func TestProgressLoggerTracksEpochs(t *testing.T) {
	var buf bytes.Buffer
	pl := NewProgressLogger(&buf)
	run := &Run{Epochs: 2, BatchesPerEpoch: 2}

	if err := pl.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}
	for epoch := 1; epoch <= 2; epoch++ {
		for batch := 1; batch <= 2; batch++ {
			if err := pl.OnBatchEnd(batch, &BatchLogs{Loss: 0.25}, run); err != nil {
				t.Fatalf("OnBatchEnd failed: %v", err)
			}
		}
		if err := pl.OnEpochEnd(epoch, &EpochLogs{}, run); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}

	out := buf.String()
	if !strings.Contains(out, "Epoch 1/2") {
		t.Errorf("output missing first epoch bar: %q", out)
	}
	if !strings.Contains(out, "Epoch 2/2") {
		t.Errorf("output missing second epoch bar: %q", out)
	}
}
