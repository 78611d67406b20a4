package training

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/dataset"
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/layers"
	"github.com/tsawler/go-pose/optimizer"
)

// poseValidation builds n feature rows of width inDim and n pose labels
// with identity quaternions.
func poseValidation(t *testing.T, n, inDim int) (features, labels *dataset.Array) {
	t.Helper()
	fdata := make([]float32, n*inDim)
	ldata := make([]float32, n*poseDims)
	for i := 0; i < n; i++ {
		for j := 0; j < inDim; j++ {
			fdata[i*inDim+j] = float32(i*inDim+j) * 0.01
		}
		ldata[i*poseDims] = float32(i)
		ldata[i*poseDims+3] = 1 // unit quaternion
	}
	features, err := dataset.NewArray([]int{n, inDim}, fdata)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	labels, err = dataset.NewArray([]int{n, poseDims}, ldata)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	return features, labels
}

func TestExtendedLoggerFailsFastOnUnknownLayer(t *testing.T) {
	net := newDenseNet(t, 4, poseDims, 21)
	features, labels := poseValidation(t, 4, 4)

	el := NewExtendedLogger(ExtendedLoggerConfig{
		Path:            filepath.Join(t.TempDir(), "run.csv"),
		PredictionLayer: "no_such_layer",
		Features:        features,
		Labels:          labels,
		Starts:          []int{0},
	}, nil)

	run := &Run{Network: net, BatchSize: 2}
	if err := el.OnTrainBegin(run); err == nil {
		t.Fatal("expected failure for unresolvable prediction layer")
	}
}

func TestExtendedLoggerRequiresStarts(t *testing.T) {
	net := newDenseNet(t, 4, poseDims, 21)
	features, labels := poseValidation(t, 4, 4)

	el := NewExtendedLogger(ExtendedLoggerConfig{
		Path:            filepath.Join(t.TempDir(), "run.csv"),
		PredictionLayer: "prediction",
		Features:        features,
		Labels:          labels,
	}, nil)

	run := &Run{Network: net, BatchSize: 2}
	if err := el.OnTrainBegin(run); !errors.Is(err, ErrMissingStarts) {
		t.Fatalf("expected ErrMissingStarts, got %v", err)
	}
}

func TestExtendedLoggerWritesCSV(t *testing.T) {
	net := newDenseNet(t, 4, poseDims, 21)
	features, labels := poseValidation(t, 6, 4)
	path := filepath.Join(t.TempDir(), "logs", "run.csv")

	el := NewExtendedLogger(ExtendedLoggerConfig{
		Path:            path,
		PredictionLayer: "prediction",
		Features:        features,
		Labels:          labels,
		Starts:          []int{0, 3},
		BatchSize:       2,
	}, nil)

	run := &Run{Network: net, BatchSize: 2}
	if err := el.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	logs := &EpochLogs{Loss: 0.5, ValLoss: 0.4, LearningRate: 0.01}
	if err := el.OnEpochEnd(1, logs, run); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}
	if err := el.OnEpochEnd(2, &EpochLogs{Loss: 0.3, ValLoss: 0.2, LearningRate: 0.01}, run); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}
	if err := el.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := logs.Metrics["position_error"]; !ok {
		t.Error("overall position_error should be published to epoch logs")
	}
	if _, ok := logs.Metrics["orientation_error"]; !ok {
		t.Error("overall orientation_error should be published to epoch logs")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("log has %d rows, want header plus 2 records", len(records))
	}
	wantHeader := []string{
		"epoch", "loss", "val_loss", "lr",
		"position_error", "position_error_seq0", "position_error_seq1",
		"orientation_error", "orientation_error_seq0", "orientation_error_seq1",
	}
	if len(records[0]) != len(wantHeader) {
		t.Fatalf("header has %d columns, want %d: %v", len(records[0]), len(wantHeader), records[0])
	}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}
	if records[1][0] != "1" || records[2][0] != "2" {
		t.Errorf("epoch columns = %q, %q; want 1, 2", records[1][0], records[2][0])
	}
	if records[1][1] != "0.5" {
		t.Errorf("loss column = %q, want 0.5", records[1][1])
	}
}

func TestExtendedLoggerStatefulPredictionsRepeatable(t *testing.T) {
	spec, err := layers.NewModelBuilder([]int{2, 2, 3}).
		AddLSTM(4, false, true, "lstm1").
		AddDense(poseDims, true, "prediction").
		Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	net, err := engine.NewNetwork(spec, 5)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}
	opt, err := optimizer.Create("sgd", 0.01)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fdata := make([]float32, 4*6)
	for i := range fdata {
		fdata[i] = float32(i) * 0.05
	}
	features, err := dataset.NewArray([]int{4, 2, 3}, fdata)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	_, labels := poseValidation(t, 4, 1)

	el := NewExtendedLogger(ExtendedLoggerConfig{
		Path:            filepath.Join(t.TempDir(), "run.csv"),
		PredictionLayer: "prediction",
		Features:        features,
		Labels:          labels,
		Starts:          []int{0},
		BatchSize:       2,
	}, nil)
	defer el.Close()

	run := &Run{Network: net, Optimizer: opt, BatchSize: 2}
	if err := el.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	// Pollute carried state between passes; each validation pass starts
	// from a clean state, so the metrics must repeat exactly.
	pollute := mat.NewDense(2, 6, []float64{1, 2, 3, 4, 5, 6, 6, 5, 4, 3, 2, 1})

	first := &EpochLogs{Loss: 1, ValLoss: 1, LearningRate: 0.01}
	if err := el.OnEpochEnd(1, first, run); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}
	if _, err := net.Infer(pollute, nil); err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	second := &EpochLogs{Loss: 1, ValLoss: 1, LearningRate: 0.01}
	if err := el.OnEpochEnd(2, second, run); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}

	for _, name := range []string{"position_error", "orientation_error"} {
		if first.Metrics[name] != second.Metrics[name] {
			t.Errorf("%s differs between passes: %v vs %v", name, first.Metrics[name], second.Metrics[name])
		}
	}
}
