package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/dataset"
	"github.com/tsawler/go-pose/logging"
)

// ExtendedLoggerConfig configures per-epoch validation logging.
type ExtendedLoggerConfig struct {
	// Path is the CSV file the logger writes, one record per epoch.
	Path string
	// PredictionLayer names the layer whose activations are the pose
	// predictions. Unresolvable names fail when training begins, before
	// any epoch runs.
	PredictionLayer string
	// Features and Labels are the validation set.
	Features *dataset.Array
	Labels   *dataset.Array
	// Starts holds the row index where each validation sequence begins.
	// Required whenever a sequence-aware metric is configured.
	Starts []int
	// BatchSize for the validation forward passes; defaults to the run's
	// training batch size.
	BatchSize int
	// Metrics to evaluate each epoch; defaults to PoseMetrics.
	Metrics []Metric
}

// ExtendedLogger runs the validation set through the model after every
// epoch, evaluates pose metrics on the prediction layer's activations
// overall and per sequence, and appends one CSV record per epoch. On
// stateful networks the carried recurrent state is cleared when the
// validation pass starts so predictions never depend on training state.
type ExtendedLogger struct {
	config ExtendedLoggerConfig

	file   *os.File
	writer *csv.Writer
	log    *logging.Logger
}

// NewExtendedLogger creates the logger. A nil logger disables progress
// logging; the CSV output is unaffected.
func NewExtendedLogger(config ExtendedLoggerConfig, log *logging.Logger) *ExtendedLogger {
	if log == nil {
		log = logging.Noop()
	}
	if len(config.Metrics) == 0 {
		config.Metrics = PoseMetrics()
	}
	return &ExtendedLogger{config: config, log: log}
}

// Close flushes and closes the CSV file. Call it once the run finishes.
func (el *ExtendedLogger) Close() error {
	if el.file == nil {
		return nil
	}
	el.writer.Flush()
	flushErr := el.writer.Error()
	closeErr := el.file.Close()
	el.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// OnTrainBegin validates the configuration against the run's network and
// opens the CSV file with its header row. It fails before the first epoch
// when the prediction layer does not exist, the validation arrays disagree,
// or a sequence-aware metric lacks starting indices.
func (el *ExtendedLogger) OnTrainBegin(run *Run) error {
	if !run.Network.HasLayer(el.config.PredictionLayer) {
		return fmt.Errorf("prediction layer %q not found in model", el.config.PredictionLayer)
	}
	if el.config.Features == nil || el.config.Labels == nil {
		return fmt.Errorf("validation features and labels are required")
	}
	n := el.config.Features.Rows()
	if el.config.Labels.Rows() != n {
		return fmt.Errorf("validation labels have %d rows, features have %d", el.config.Labels.Rows(), n)
	}
	if el.config.BatchSize <= 0 {
		el.config.BatchSize = run.BatchSize
	}

	seqCount := 0
	for _, m := range el.config.Metrics {
		if !m.SequenceAware {
			continue
		}
		bounds, err := sequenceBounds(el.config.Starts, n)
		if err != nil {
			return fmt.Errorf("metric %s: %w", m.Name, err)
		}
		seqCount = len(bounds)
	}

	if err := os.MkdirAll(filepath.Dir(el.config.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	file, err := os.Create(el.config.Path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %v", err)
	}
	el.file = file
	el.writer = csv.NewWriter(file)

	header := []string{"epoch", "loss", "val_loss", "lr"}
	for _, m := range el.config.Metrics {
		header = append(header, m.Name)
		if m.SequenceAware {
			for s := 0; s < seqCount; s++ {
				header = append(header, fmt.Sprintf("%s_seq%d", m.Name, s))
			}
		}
	}
	if err := el.writer.Write(header); err != nil {
		return fmt.Errorf("failed to write log header: %v", err)
	}
	el.writer.Flush()
	return el.writer.Error()
}

// OnEpochEnd predicts over the validation set, evaluates the configured
// metrics and appends the epoch's CSV record.
func (el *ExtendedLogger) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	preds, err := el.predict(run)
	if err != nil {
		return fmt.Errorf("validation prediction failed: %v", err)
	}
	truth := denseFromArray(el.config.Labels)

	record := []string{
		strconv.Itoa(epoch),
		formatFloat(logs.Loss),
		formatFloat(logs.ValLoss),
		formatFloat(logs.LearningRate),
	}
	for _, m := range el.config.Metrics {
		values, err := m.Evaluate(preds, truth, el.config.Starts)
		if err != nil {
			return err
		}
		if logs.Metrics == nil {
			logs.Metrics = make(map[string]float64)
		}
		logs.Metrics[m.Name] = values[0]
		for _, v := range values {
			record = append(record, formatFloat(v))
		}
	}

	if err := el.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write log record: %v", err)
	}
	el.writer.Flush()
	return el.writer.Error()
}

// OnBatchEnd is a no-op; records are written per epoch.
func (el *ExtendedLogger) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	return nil
}

// predict runs the validation set through the network in dataset order and
// collects the prediction layer's activations row by row.
func (el *ExtendedLogger) predict(run *Run) (*mat.Dense, error) {
	if run.Network.Stateful() {
		run.Network.ResetStates()
	}

	n := el.config.Features.Rows()
	var preds *mat.Dense
	for begin := 0; begin < n; begin += el.config.BatchSize {
		end := begin + el.config.BatchSize
		if end > n {
			end = n
		}
		inputs := denseFromArray(el.config.Features.SliceRows(begin, end))
		var aux *mat.Dense
		if run.Network.HasAuxHead() {
			aux = denseFromArray(el.config.Labels.SliceRows(begin, end))
		}
		if _, err := run.Network.Infer(inputs, aux); err != nil {
			return nil, err
		}
		act, err := run.Network.Activation(el.config.PredictionLayer)
		if err != nil {
			return nil, err
		}
		if preds == nil {
			_, cols := act.Dims()
			preds = mat.NewDense(n, cols, nil)
		}
		rows, cols := act.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				preds.Set(begin+r, c, act.At(r, c))
			}
		}
	}
	return preds, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
