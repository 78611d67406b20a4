// Package search runs randomized hyperparameter search for pose-regression
// training. Each iteration draws one assignment from the space, formats a
// human-readable run identifier, builds a model through the factory, wires
// the validation logger, checkpoint writer, early stopper and, for stateful
// runs, the state-reset coordinator, then trains to completion or early
// stop. Results land under one directory per run identifier plus a session
// manifest at the output root.
package search

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/dataset"
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/training"
)

// ValidationLogName is the per-run CSV file of validation metrics.
const ValidationLogName = "validation.csv"

// ModelFactory builds one trainable model per hyperparameter assignment.
type ModelFactory interface {
	// RequiredKeys lists the hyperparameter names every assignment must
	// provide for Build to succeed.
	RequiredKeys() []string
	// Build constructs the model for one drawn assignment, returning the
	// training session and the criterion scoring its batches.
	Build(identifier string, a Assignment) (*training.Session, engine.Loss, error)
}

var (
	ErrNoSpace     = errors.New("search: hyperparameter space must be specified")
	ErrNoDesc      = errors.New("search: run-identifier template must be specified")
	ErrNoOutputDir = errors.New("search: output directory must be specified")
	ErrNoFactory   = errors.New("search: model factory must be specified")
	ErrNoData      = errors.New("search: training and validation data must be specified")
	// ErrMissingKeys reports a space that does not cover every key the
	// factory consumes.
	ErrMissingKeys = errors.New("search: space does not cover the factory's required keys")
)

// Config describes one search session.
type Config struct {
	Factory ModelFactory
	Space   Space
	// Desc formats the run identifier from each assignment, e.g.
	// "lr{lr:.2e}-drop{dropout:.2f}". Identifiers are not de-duplicated;
	// if two draws format identically the later run overwrites the
	// earlier one's directory.
	Desc string

	TrainFeatures *dataset.Array
	TrainLabels   *dataset.Array
	ValFeatures   *dataset.Array
	ValLabels     *dataset.Array
	// StartingIndices marks where each validation source sequence begins
	// within the concatenated validation arrays, enabling per-sequence
	// metric breakdown. Leave nil when the split is a single sequence.
	StartingIndices []int

	OutputDir string

	Iters     int
	Epochs    int
	BatchSize int
	// SavePeriod is the checkpoint cadence in epochs; non-positive
	// disables periodic checkpoints.
	SavePeriod int

	// Stateful keeps samples in dataset order across epochs and attaches
	// the reset coordinator with ResetInterval.
	Stateful      bool
	ResetInterval int

	// PredictionLayer names the layer whose activations feed validation
	// metrics. Defaults to "prediction".
	PredictionLayer string

	// CheckpointFormat for model snapshots; the zero value is JSON.
	CheckpointFormat checkpoints.CheckpointFormat

	// Seed drives batch shuffling on non-stateful runs.
	Seed int64
}

// Driver executes search iterations one at a time. Everything runs on the
// calling goroutine; observers fire synchronously inside the training loop.
type Driver struct {
	cfg       Config
	log       *logging.Logger
	collector Collector
	summary   io.Writer
	failFast  bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger attaches a structured logger. The default discards logs.
func WithLogger(log *logging.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithCollector attaches a progress collector.
func WithCollector(c Collector) Option {
	return func(d *Driver) {
		if c != nil {
			d.collector = c
		}
	}
}

// WithFailFast makes the first iteration error abort the search. The
// default records the failure in the manifest and moves to the next draw.
func WithFailFast() Option {
	return func(d *Driver) { d.failFast = true }
}

// WithSummaryWriter directs each built model's summary to w, mirroring the
// model-summary printout of an interactive run.
func WithSummaryWriter(w io.Writer) Option {
	return func(d *Driver) {
		if w != nil {
			d.summary = w
		}
	}
}

// NewDriver validates the configuration and returns a driver. Every
// configuration error surfaces here, before any training compute: missing
// space, desc or output dir, absent data, space keys that do not cover the
// factory's requirements, and desc placeholders outside the space.
func NewDriver(cfg Config, opts ...Option) (*Driver, error) {
	if len(cfg.Space) == 0 {
		return nil, ErrNoSpace
	}
	if cfg.Desc == "" {
		return nil, ErrNoDesc
	}
	if cfg.OutputDir == "" {
		return nil, ErrNoOutputDir
	}
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.TrainFeatures == nil || cfg.TrainLabels == nil || cfg.ValFeatures == nil || cfg.ValLabels == nil {
		return nil, ErrNoData
	}
	if cfg.Iters <= 0 {
		return nil, fmt.Errorf("search: iters must be positive, got %d", cfg.Iters)
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("search: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("search: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.PredictionLayer == "" {
		cfg.PredictionLayer = "prediction"
	}

	var missing []string
	for _, key := range cfg.Factory.RequiredKeys() {
		if _, ok := cfg.Space[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingKeys, missing)
	}

	keys, err := TemplateKeys(cfg.Desc)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if _, ok := cfg.Space[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlaceholder, key)
		}
	}

	d := &Driver{
		cfg:       cfg,
		log:       logging.Noop(),
		collector: NoopCollector{},
		summary:   io.Discard,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run executes the configured number of iterations and returns the session
// manifest, which mirrors what was written to disk. Iteration failures are
// recorded and skipped unless the driver was built WithFailFast; manifest
// write failures always abort, since losing the manifest loses the session.
func (d *Driver) Run() (*Manifest, error) {
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %v", err)
	}

	manifest := &Manifest{
		SessionID: uuid.NewString(),
		Desc:      d.cfg.Desc,
		StartedAt: time.Now().UTC(),
	}
	d.log.Info("search started",
		"session", manifest.SessionID,
		"iters", d.cfg.Iters,
		"epochs", d.cfg.Epochs,
		"batch_size", d.cfg.BatchSize,
		"stateful", d.cfg.Stateful)

	for iter := 1; iter <= d.cfg.Iters; iter++ {
		a := Draw(d.cfg.Space)
		identifier, err := FormatDesc(d.cfg.Desc, a)
		if err != nil {
			return manifest, err
		}

		now := time.Now().UTC()
		manifest.Runs = append(manifest.Runs, RunRecord{
			ID:              uuid.NewString(),
			Identifier:      identifier,
			Hyperparameters: displayAssignment(a),
			Status:          StatusRunning,
			StartedAt:       now,
		})
		if err := manifest.write(d.cfg.OutputDir); err != nil {
			return manifest, err
		}
		d.collector.RunStarted()
		d.log.Info("iteration started",
			"iteration", iter,
			"run", identifier,
			"hyperparameters", manifest.Runs[len(manifest.Runs)-1].Hyperparameters)

		history, runErr := d.executeRun(identifier, a)

		entry := &manifest.Runs[len(manifest.Runs)-1]
		finished := time.Now().UTC()
		entry.FinishedAt = &finished
		if history != nil {
			entry.EpochsRun = history.Len()
			entry.BestValLoss = bestValLoss(history)
		}
		switch {
		case runErr != nil:
			entry.Status = StatusFailed
			entry.Error = runErr.Error()
			d.collector.RunFailed()
		case entry.EpochsRun < d.cfg.Epochs:
			entry.Status = StatusStopped
			d.collector.RunFinished(entry.EpochsRun)
		default:
			entry.Status = StatusFinished
			d.collector.RunFinished(entry.EpochsRun)
		}
		if err := manifest.write(d.cfg.OutputDir); err != nil {
			return manifest, err
		}

		if runErr != nil {
			if d.failFast {
				return manifest, fmt.Errorf("iteration %d (%s): %w", iter, identifier, runErr)
			}
			d.log.Error("iteration failed",
				"iteration", iter,
				"run", identifier,
				"error", runErr)
			continue
		}
		d.log.Info("iteration finished",
			"iteration", iter,
			"run", identifier,
			"status", entry.Status,
			"epochs", entry.EpochsRun)
	}
	return manifest, nil
}

// executeRun trains one iteration: resolve the LR schedule, wire callbacks,
// build the model and fit. The validation logger always registers first so
// every downstream observer sees the metrics it publishes into the epoch
// record.
func (d *Driver) executeRun(identifier string, a Assignment) (*training.History, error) {
	runDir := filepath.Join(d.cfg.OutputDir, identifier)

	lrCallback, err := resolveLRModifier(a)
	if err != nil {
		return nil, err
	}

	metrics := training.PoseMetrics()
	if len(d.cfg.StartingIndices) == 0 {
		// No sequence boundaries to break metrics down by.
		for i := range metrics {
			metrics[i].SequenceAware = false
		}
	}

	logger := training.NewExtendedLogger(training.ExtendedLoggerConfig{
		Path:            filepath.Join(runDir, ValidationLogName),
		PredictionLayer: d.cfg.PredictionLayer,
		Features:        d.cfg.ValFeatures,
		Labels:          d.cfg.ValLabels,
		Starts:          d.cfg.StartingIndices,
		BatchSize:       d.cfg.BatchSize,
		Metrics:         metrics,
	}, d.log)
	defer logger.Close()

	callbacks := []training.Callback{
		logger,
		training.NewModelCheckpoint(runDir, d.cfg.SavePeriod, d.cfg.CheckpointFormat, d.log),
		training.NewEarlyStopping(0, 0, d.log),
	}
	if d.cfg.Stateful {
		callbacks = append(callbacks, training.NewResetStates(d.cfg.ResetInterval))
	}
	if lrCallback != nil {
		callbacks = append(callbacks, lrCallback)
	}

	sess, criterion, err := d.cfg.Factory.Build(identifier, a)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(d.summary, sess.Network().Spec().Summary())

	return sess.Fit(d.cfg.TrainFeatures, d.cfg.TrainLabels, training.FitConfig{
		Epochs:    d.cfg.Epochs,
		BatchSize: d.cfg.BatchSize,
		Shuffle:   !d.cfg.Stateful,
		Seed:      d.cfg.Seed,
		Criterion: criterion,
		Callbacks: callbacks,
		Validation: &training.ValidationData{
			Features: d.cfg.ValFeatures,
			Labels:   d.cfg.ValLabels,
			Starts:   d.cfg.StartingIndices,
		},
		Params: a,
	})
}
