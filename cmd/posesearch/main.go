// Command posesearch runs randomized hyperparameter search for supervised
// pose-regression models over pre-extracted feature arrays.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/config"
	"github.com/tsawler/go-pose/dataset"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/model"
	"github.com/tsawler/go-pose/search"
)

var (
	trainFeaturesPaths []string
	trainLabelsPaths   []string
	valFeaturesPaths   []string
	valLabelsPaths     []string

	outputDir        string
	hyperparamConfig string

	modeName        string
	modelWeights    string
	finetuneArch    string
	finetuneDataset string

	topModelName string
	seqLen       int
	subseqLen    int
	lossName     string

	iters      int
	epochs     int
	batchSize  int
	savePeriod int

	checkpointFormat string
	seed             int64
	logFormat        string
	logLevel         string

	rootCmd = &cobra.Command{
		Use:   "posesearch",
		Short: "Randomized hyperparameter search for pose-regression models",
		Long: `posesearch draws hyperparameter assignments from the distributions in a
search configuration, trains one pose-regression model per draw, and records
validation metrics, checkpoints and a session manifest under the output
directory.

Feature and label files are .npy arrays. Flat heads (regressor, spatial-lstm)
accept several files per split and concatenate them; temporal heads
(standard-lstm, stateful-lstm) expect exactly one pre-windowed file per split.

Example:
  posesearch --train-features f1.npy --train-features f2.npy \
    --train-labels l1.npy --train-labels l2.npy \
    --val-features v.npy --val-labels vl.npy \
    --output-dir runs/ --hyperparam-config search.yaml \
    --top-model-type regressor --loss naive-weighted --iters 50`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()

	flags.StringSliceVar(&trainFeaturesPaths, "train-features", nil, "training feature file, repeatable")
	flags.StringSliceVar(&trainLabelsPaths, "train-labels", nil, "training label file, repeatable")
	flags.StringSliceVar(&valFeaturesPaths, "val-features", nil, "validation feature file, repeatable")
	flags.StringSliceVar(&valLabelsPaths, "val-labels", nil, "validation label file, repeatable")

	flags.StringVar(&outputDir, "output-dir", "", "directory receiving run directories and the session manifest")
	flags.StringVar(&hyperparamConfig, "hyperparam-config", "", "search configuration file (yaml)")

	flags.StringVar(&modeName, "mode", "initial", fmt.Sprintf("training mode, one of %v", model.Modes()))
	flags.StringVar(&modelWeights, "model-weights", "", "checkpoint to initialize from (finetune mode)")
	flags.StringVar(&finetuneArch, "finetuning-model-arch", "", fmt.Sprintf("backbone the features came from, one of %v (finetune mode)", model.Backbones()))
	flags.StringVar(&finetuneDataset, "finetuning-model-dataset", "", fmt.Sprintf("backbone pretraining dataset, one of %v (finetune mode)", model.BackboneDatasets()))

	flags.StringVar(&topModelName, "top-model-type", "regressor", fmt.Sprintf("model family, one of %v", model.TopModels()))
	flags.IntVar(&seqLen, "seq-len", 0, "sequence length for recurrent families")
	flags.IntVar(&subseqLen, "subseq-len", 0, "subsequence chunk length for stateful-lstm")
	flags.StringVar(&lossName, "loss", "naive-weighted", fmt.Sprintf("loss, one of %v", model.Losses()))

	flags.IntVar(&iters, "iters", 50, "number of hyperparameter draws")
	flags.IntVar(&epochs, "epochs", 1000, "epochs per draw")
	flags.IntVar(&batchSize, "batch-size", 128, "training batch size")
	flags.IntVar(&savePeriod, "save-period", 1, "checkpoint cadence in epochs, non-positive disables")

	flags.StringVar(&checkpointFormat, "checkpoint-format", "json", "checkpoint serialization, json or binary")
	flags.Int64Var(&seed, "seed", 42, "seed for weight initialization and batch shuffling")
	flags.StringVar(&logFormat, "log-format", "text", "log output, text or json")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	for _, name := range []string{
		"train-features", "train-labels", "val-features", "val-labels",
		"output-dir", "hyperparam-config",
	} {
		cobra.CheckErr(rootCmd.MarkFlagRequired(name))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}

	topModel, err := model.ParseTopModel(topModelName)
	if err != nil {
		return err
	}
	loss, err := model.ParseLoss(lossName)
	if err != nil {
		return err
	}
	mode, err := model.ParseMode(modeName)
	if err != nil {
		return err
	}
	format, err := parseCheckpointFormat(checkpointFormat)
	if err != nil {
		return err
	}

	opts := model.Options{
		TopModel:    topModel,
		Loss:        loss,
		Mode:        mode,
		BatchSize:   batchSize,
		SeqLen:      seqLen,
		SubseqLen:   subseqLen,
		WeightsPath: modelWeights,
		Seed:        seed,
	}
	if mode == model.ModeFinetune {
		if opts.FinetuneArch, err = model.ParseBackbone(finetuneArch); err != nil {
			return err
		}
		if opts.FinetuneDataset, err = model.ParseBackboneDataset(finetuneDataset); err != nil {
			return err
		}
	}

	file, err := config.Load(hyperparamConfig)
	if err != nil {
		return err
	}
	space, err := file.BuildSpace()
	if err != nil {
		return err
	}

	data, err := loadData(topModel)
	if err != nil {
		return err
	}
	defer data.close()
	log.Info("data loaded",
		"train_rows", data.trainFeatures.Rows(),
		"val_rows", data.valFeatures.Rows(),
		"val_sequences", len(data.starts),
		"input_dim", data.inputDim())

	opts.InputDim = data.inputDim()
	factory, err := model.NewFactory(opts, log)
	if err != nil {
		return err
	}

	driver, err := search.NewDriver(search.Config{
		Factory:          factory,
		Space:            space,
		Desc:             file.Desc,
		TrainFeatures:    data.trainFeatures,
		TrainLabels:      data.trainLabels,
		ValFeatures:      data.valFeatures,
		ValLabels:        data.valLabels,
		StartingIndices:  data.starts,
		OutputDir:        outputDir,
		Iters:            iters,
		Epochs:           epochs,
		BatchSize:        batchSize,
		SavePeriod:       savePeriod,
		Stateful:         topModel.Stateful(),
		ResetInterval:    opts.ResetInterval(),
		PredictionLayer:  model.PredictionLayerName,
		CheckpointFormat: format,
		Seed:             seed,
	}, search.WithLogger(log), search.WithSummaryWriter(os.Stdout))
	if err != nil {
		return err
	}

	manifest, err := driver.Run()
	if err != nil {
		return err
	}
	log.Info("search complete", "session", manifest.SessionID, "runs", len(manifest.Runs))
	return nil
}

func buildLogger() (*logging.Logger, error) {
	level := logging.ParseLevel(logLevel)
	switch logFormat {
	case "text":
		return logging.NewTextLogger(os.Stderr, level), nil
	case "json":
		return logging.NewJSONLogger(os.Stderr, level), nil
	}
	return nil, fmt.Errorf("unknown log format %q, want text or json", logFormat)
}

func parseCheckpointFormat(s string) (checkpoints.CheckpointFormat, error) {
	switch s {
	case "json":
		return checkpoints.FormatJSON, nil
	case "binary":
		return checkpoints.FormatBinary, nil
	}
	return checkpoints.FormatJSON, fmt.Errorf("unknown checkpoint format %q, want json or binary", s)
}

// searchData holds the loaded splits. closers outlive the search because
// temporal features may be backed by a file mapping.
type searchData struct {
	trainFeatures, trainLabels *dataset.Array
	valFeatures, valLabels     *dataset.Array
	starts                     []int
	closers                    []func() error
}

func (d *searchData) close() {
	for _, c := range d.closers {
		_ = c()
	}
}

func (d *searchData) inputDim() int {
	shape := d.trainFeatures.Shape
	return shape[len(shape)-1]
}

// loadData assembles the splits the way the model family consumes them.
// Flat heads concatenate any number of squeezed sources per split and keep
// the validation boundaries for per-sequence metrics. Temporal heads expect
// one pre-windowed array per split, mapped rather than copied, and carry no
// boundaries.
func loadData(top model.TopModelType) (*searchData, error) {
	if top.MultiSource() {
		trainF, _, err := dataset.LoadConcat(trainFeaturesPaths, true)
		if err != nil {
			return nil, err
		}
		trainL, _, err := dataset.LoadConcat(trainLabelsPaths, true)
		if err != nil {
			return nil, err
		}
		valF, starts, err := dataset.LoadConcat(valFeaturesPaths, true)
		if err != nil {
			return nil, err
		}
		valL, _, err := dataset.LoadConcat(valLabelsPaths, true)
		if err != nil {
			return nil, err
		}
		return &searchData{
			trainFeatures: trainF,
			trainLabels:   trainL,
			valFeatures:   valF,
			valLabels:     valL,
			starts:        starts,
		}, nil
	}

	d := &searchData{}
	load := func(paths []string, flag string) (*dataset.Array, error) {
		if len(paths) != 1 {
			return nil, fmt.Errorf("%s expects exactly one file for %s, got %d", top, flag, len(paths))
		}
		arr, closeFn, err := dataset.OpenMapped(paths[0])
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, closeFn)
		return arr, nil
	}

	var err error
	if d.trainFeatures, err = load(trainFeaturesPaths, "--train-features"); err != nil {
		return nil, err
	}
	if d.trainLabels, err = load(trainLabelsPaths, "--train-labels"); err != nil {
		return nil, err
	}
	if d.valFeatures, err = load(valFeaturesPaths, "--val-features"); err != nil {
		return nil, err
	}
	if d.valLabels, err = load(valLabelsPaths, "--val-labels"); err != nil {
		return nil, err
	}
	return d, nil
}
