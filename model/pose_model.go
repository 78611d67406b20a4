package model

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
	"github.com/tsawler/go-pose/layers"
	"github.com/tsawler/go-pose/logging"
	"github.com/tsawler/go-pose/optimizer"
	"github.com/tsawler/go-pose/training"
)

// PredictionLayerName is the layer whose activations are the pose output.
// The validation logger extracts it by name, independent of whichever layer
// the optimization loss runs through.
const PredictionLayerName = "prediction"

// Pose outputs are xyz position followed by a wxyz orientation quaternion.
const (
	poseOutputs  = 7
	positionDims = 3
)

// Mode selects initial training or finetuning from saved weights.
type Mode int

const (
	ModeInitial Mode = iota
	ModeFinetune
)

// ErrUnknownMode indicates a mode tag outside the closed set.
var ErrUnknownMode = errors.New("model: unknown mode")

// ParseMode resolves a training-mode tag.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "initial":
		return ModeInitial, nil
	case "finetune":
		return ModeFinetune, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) String() string {
	switch m {
	case ModeInitial:
		return "initial"
	case ModeFinetune:
		return "finetune"
	default:
		return "unknown"
	}
}

// Modes lists the valid tags.
func Modes() []string { return []string{"initial", "finetune"} }

// ErrInvalidOptions indicates option combinations no draw can repair.
var ErrInvalidOptions = errors.New("model: invalid options")

// Options fixes the model family for a whole search. Per-iteration values
// arrive separately as a Config.
type Options struct {
	TopModel TopModelType
	Loss     LossType
	Mode     Mode

	// InputDim is the size of the trailing feature axis: features per
	// sample for flat heads, features per timestep for temporal ones.
	InputDim int
	// BatchSize fixes the compiled batch dimension.
	BatchSize int
	// SeqLen is the sequence length for recurrent heads; the spatial head
	// splits each flat feature vector into this many steps.
	SeqLen int
	// SubseqLen is the chunk length stateful training feeds per batch.
	SubseqLen int

	// Finetune provenance and weights.
	FinetuneArch    BackboneType
	FinetuneDataset BackboneDataset
	WeightsPath     string

	// Seed drives weight initialization.
	Seed int64
}

// Validate fails fast on broken options, before any search compute starts.
func (o Options) Validate() error {
	if o.InputDim <= 0 {
		return fmt.Errorf("%w: input dimension must be positive, got %d", ErrInvalidOptions, o.InputDim)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOptions, o.BatchSize)
	}
	if o.TopModel.Recurrent() && o.SeqLen <= 0 {
		return fmt.Errorf("%w: %s requires a positive seq_len", ErrInvalidOptions, o.TopModel)
	}
	if o.TopModel == TopModelSpatialLSTM && o.InputDim%o.SeqLen != 0 {
		return fmt.Errorf("%w: input dimension %d does not split into %d spatial steps",
			ErrInvalidOptions, o.InputDim, o.SeqLen)
	}
	if o.TopModel.Stateful() {
		if o.SubseqLen <= 0 {
			return fmt.Errorf("%w: %s requires a positive subseq_len", ErrInvalidOptions, o.TopModel)
		}
		if o.SeqLen%o.SubseqLen != 0 {
			return fmt.Errorf("%w: seq_len %d is not a multiple of subseq_len %d",
				ErrInvalidOptions, o.SeqLen, o.SubseqLen)
		}
	}
	if o.Mode == ModeFinetune {
		if o.WeightsPath == "" {
			return fmt.Errorf("%w: finetune mode requires model weights", ErrInvalidOptions)
		}
		if o.FinetuneArch == BackboneUnknown {
			return fmt.Errorf("%w: finetune mode requires the backbone architecture", ErrInvalidOptions)
		}
		if o.FinetuneDataset == DatasetUnknown {
			return fmt.Errorf("%w: finetune mode requires the backbone's pretraining dataset", ErrInvalidOptions)
		}
	}
	return nil
}

// ResetInterval is the stateful reset cadence in batches: how many
// subsequence chunks make up one true sequence. Non-stateful heads get a
// non-positive interval, which disables the reset coordinator.
func (o Options) ResetInterval() int {
	if !o.TopModel.Stateful() {
		return -1
	}
	return o.SeqLen / o.SubseqLen
}

// PoseModel assembles one trainable pose-regression network from fixed
// options and a validated per-draw config.
type PoseModel struct {
	Options Options
	Config  Config
}

// Spec builds and compiles the layer graph for the model family. The final
// dense layer always carries PredictionLayerName so the validation logger
// can extract pose predictions; the homoscedastic head sits after it when
// the loss learns its own weighting.
func (m *PoseModel) Spec() (*layers.ModelSpec, error) {
	hp := m.Config.Base()
	o := m.Options

	var b *layers.ModelBuilder
	switch m.Config.Family() {
	case TopModelRegressor:
		b = layers.NewModelBuilder([]int{o.BatchSize, o.InputDim}).
			AddDense(hp.Hidden, true, "fc1").
			AddReLU("relu1").
			AddDropout(float32(hp.Dropout), "dropout1")
	case TopModelSpatialLSTM:
		b = layers.NewModelBuilder([]int{o.BatchSize, o.InputDim}).
			AddReshape([]int{o.SeqLen, o.InputDim / o.SeqLen}, "spatial_seq").
			AddLSTM(hp.Hidden, false, false, "lstm1").
			AddDropout(float32(hp.Dropout), "dropout1")
	case TopModelStandardLSTM:
		b = layers.NewModelBuilder([]int{o.BatchSize, o.SeqLen, o.InputDim}).
			AddLSTM(hp.Hidden, false, false, "lstm1").
			AddDropout(float32(hp.Dropout), "dropout1")
	case TopModelStatefulLSTM:
		b = layers.NewModelBuilder([]int{o.BatchSize, o.SubseqLen, o.InputDim}).
			AddLSTM(hp.Hidden, false, true, "lstm1").
			AddDropout(float32(hp.Dropout), "dropout1")
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownTopModel, m.Config.Family())
	}

	b.AddDense(poseOutputs, true, PredictionLayerName)
	if o.Loss.RequiresAuxiliaryInput() {
		b.AddHomoscedasticLoss(positionDims, initSPos, initSQuat, "homoscedastic")
	}
	return b.Compile()
}

// Build compiles the graph, instantiates the network and optimizer, and
// wraps them in a training session. Finetune mode loads saved weights into
// the fresh network before training starts.
func (m *PoseModel) Build(identifier string, log *logging.Logger) (*training.Session, error) {
	spec, err := m.Spec()
	if err != nil {
		return nil, err
	}
	net, err := engine.NewNetwork(spec, m.Options.Seed)
	if err != nil {
		return nil, err
	}

	if m.Options.Mode == ModeFinetune {
		if err := loadInitialWeights(net, m.Options.WeightsPath); err != nil {
			return nil, err
		}
	}

	hp := m.Config.Base()
	opt, err := optimizer.Create(hp.Optimizer, hp.LearningRate)
	if err != nil {
		return nil, err
	}
	return training.NewSession(identifier, net, opt, log), nil
}

// Criterion returns the loss scoring this model's training batches.
func (m *PoseModel) Criterion() engine.Loss {
	return m.Options.Loss.Criterion(m.Config.Base().Beta)
}

func loadInitialWeights(net *engine.Network, path string) error {
	ckpt, err := checkpoints.LoadAuto(path)
	if err != nil {
		return fmt.Errorf("failed to load finetuning weights: %v", err)
	}
	if err := checkpoints.ApplyWeights(ckpt.Weights, net); err != nil {
		return fmt.Errorf("failed to apply finetuning weights: %v", err)
	}
	return nil
}
