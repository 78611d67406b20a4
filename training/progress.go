package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders console training progress with rate and ETA.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	out         io.Writer
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar writing to w.
func NewProgressBar(description string, total int, w io.Writer) *ProgressBar {
	if w == nil {
		w = os.Stdout
	}
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       70,
		out:         w,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar and moves to a new line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar, overwriting the current console line.
func (pb *ProgressBar) render() {
	percentage := float64(pb.current) / float64(pb.total)
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if eta > 0 {
		line += fmt.Sprintf(" [%s<%s",
			formatDuration(elapsed),
			formatDuration(eta),
		)
	} else {
		line += fmt.Sprintf(" [%s<00:00",
			formatDuration(elapsed),
		)
	}

	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.4f", key, pb.metrics[key])
	}

	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS.
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ProgressLogger renders one progress bar per epoch, advanced at every
// batch. Epochs are tracked internally since epochs begin implicitly with
// their first batch.
type ProgressLogger struct {
	out io.Writer

	epoch int
	bar   *ProgressBar
}

// NewProgressLogger creates the callback writing to w, defaulting to
// standard output.
func NewProgressLogger(w io.Writer) *ProgressLogger {
	if w == nil {
		w = os.Stdout
	}
	return &ProgressLogger{out: w}
}

// OnTrainBegin resets epoch tracking for the new run.
func (pl *ProgressLogger) OnTrainBegin(run *Run) error {
	pl.epoch = 1
	pl.bar = nil
	return nil
}

// OnBatchEnd opens the epoch's bar at the first batch and advances it.
func (pl *ProgressLogger) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	if pl.bar == nil {
		description := fmt.Sprintf("Epoch %d/%d", pl.epoch, run.Epochs)
		pl.bar = NewProgressBar(description, run.BatchesPerEpoch, pl.out)
	}
	pl.bar.Update(batch, map[string]float64{"loss": logs.Loss})
	return nil
}

// OnEpochEnd closes the epoch's bar.
func (pl *ProgressLogger) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	if pl.bar != nil {
		pl.bar.Finish()
		pl.bar = nil
	}
	pl.epoch = epoch + 1
	return nil
}
