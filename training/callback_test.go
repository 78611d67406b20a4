package training

import (
	"errors"
	"math"
	"testing"
)

type failingCallback struct {
	err error
}

func (f *failingCallback) OnTrainBegin(run *Run) error { return f.err }
func (f *failingCallback) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	return f.err
}
func (f *failingCallback) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	return f.err
}

func TestCallbackListPreservesOrder(t *testing.T) {
	var events []string
	list := NewCallbackList(
		&orderRecorder{name: "first", log: &events},
		&orderRecorder{name: "second", log: &events},
	)

	run := &Run{}
	if err := list.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}
	if err := list.OnBatchEnd(1, &BatchLogs{}, run); err != nil {
		t.Fatalf("OnBatchEnd failed: %v", err)
	}
	if err := list.OnEpochEnd(1, &EpochLogs{}, run); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}

	want := []string{
		"first:begin", "second:begin",
		"first:batch:1", "second:batch:1",
		"first:epoch:1", "second:epoch:1",
	}
	if len(events) != len(want) {
		t.Fatalf("recorded %d events, want %d: %v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestCallbackListSkipsNil(t *testing.T) {
	var events []string
	list := NewCallbackList(nil, &orderRecorder{name: "a", log: &events}, nil)
	if list.Len() != 1 {
		t.Errorf("Len() = %d, want 1", list.Len())
	}
}

func TestCallbackListStopsAtFirstError(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	list := NewCallbackList(
		&failingCallback{err: boom},
		&orderRecorder{name: "after", log: &events},
	)

	err := list.OnEpochEnd(1, &EpochLogs{}, &Run{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("later callbacks ran after a failure: %v", events)
	}
}

func TestEarlyStoppingPatience(t *testing.T) {
	es := NewEarlyStopping(0, 3, nil)
	run := &Run{}
	if err := es.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	series := []float64{1.0, 0.9, 0.9, 0.9, 0.9}
	stoppedAt := 0
	for i, v := range series {
		if err := es.OnEpochEnd(i+1, &EpochLogs{ValLoss: v}, run); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
		if run.StopTraining && stoppedAt == 0 {
			stoppedAt = i + 1
		}
	}
	if stoppedAt != 5 {
		t.Errorf("stopped at epoch %d, want 5", stoppedAt)
	}
}

func TestEarlyStoppingImprovementResetsPatience(t *testing.T) {
	es := NewEarlyStopping(0, 3, nil)
	run := &Run{}
	if err := es.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	series := []float64{1.0, 0.9, 0.95, 0.8, 0.85, 0.9, 0.7}
	for i, v := range series {
		if err := es.OnEpochEnd(i+1, &EpochLogs{ValLoss: v}, run); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}
	if run.StopTraining {
		t.Error("run stopped despite periodic improvement")
	}
}

func TestEarlyStoppingMinDelta(t *testing.T) {
	es := NewEarlyStopping(0.1, 2, nil)
	run := &Run{}
	if err := es.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	// Drops smaller than min_delta do not count as improvement.
	series := []float64{1.0, 0.95, 0.92}
	for i, v := range series {
		if err := es.OnEpochEnd(i+1, &EpochLogs{ValLoss: v}, run); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}
	if !run.StopTraining {
		t.Error("run should stop when improvements stay inside min_delta")
	}
}

func TestEarlyStoppingIgnoresMissingValidation(t *testing.T) {
	es := NewEarlyStopping(0, 2, nil)
	run := &Run{}
	if err := es.OnTrainBegin(run); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}

	for epoch := 1; epoch <= 5; epoch++ {
		if err := es.OnEpochEnd(epoch, &EpochLogs{ValLoss: math.NaN()}, run); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}
	if run.StopTraining {
		t.Error("runs without validation loss must not early-stop")
	}
}

func TestEarlyStoppingResetsBetweenRuns(t *testing.T) {
	es := NewEarlyStopping(0, 2, nil)

	first := &Run{}
	if err := es.OnTrainBegin(first); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}
	for epoch := 1; epoch <= 3; epoch++ {
		if err := es.OnEpochEnd(epoch, &EpochLogs{ValLoss: 1.0}, first); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}
	if !first.StopTraining {
		t.Fatal("first run should have stopped")
	}

	second := &Run{}
	if err := es.OnTrainBegin(second); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}
	if err := es.OnEpochEnd(1, &EpochLogs{ValLoss: 5.0}, second); err != nil {
		t.Fatalf("OnEpochEnd failed: %v", err)
	}
	if second.StopTraining {
		t.Error("a fresh run inherited stop state from the previous run")
	}
}

func TestEarlyStoppingDefaultPatience(t *testing.T) {
	es := NewEarlyStopping(0, 0, nil)
	if es.Patience != DefaultPatience {
		t.Errorf("Patience = %d, want %d", es.Patience, DefaultPatience)
	}
}
