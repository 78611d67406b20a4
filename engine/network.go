// Package engine executes compiled layer specifications on the CPU. It
// instantiates trainable modules from a layers.ModelSpec, runs forward and
// backward passes over gonum matrices, and exposes named activations so
// callers can read intermediate outputs without retracing the graph.
package engine

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/layers"
)

var (
	// ErrLayerNotFound reports a request for an activation or parameter of
	// a layer name the compiled model does not contain.
	ErrLayerNotFound = errors.New("engine: layer not found")
	// ErrNotCompiled reports a model spec that was never compiled.
	ErrNotCompiled = errors.New("engine: model spec not compiled")
)

// Updater applies accumulated gradients to parameters. Optimizers satisfy
// this without the engine importing them.
type Updater interface {
	Step(params []*Parameter) error
}

// Network is an executable instance of a compiled model spec. It owns the
// parameter storage, the per-layer modules, and the activation cache from
// the most recent forward pass. A Network is not safe for concurrent use.
type Network struct {
	spec  *layers.ModelSpec
	mods  []module
	names []string

	params      []*Parameter
	activations map[string]*mat.Dense

	training   bool
	hasAuxHead bool
	stateful   bool
	rng        *rand.Rand
}

// NewNetwork instantiates modules and weights for a compiled spec. The seed
// drives weight initialization and dropout sampling, so equal seeds yield
// identical networks.
func NewNetwork(spec *layers.ModelSpec, seed int64) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, ErrNotCompiled
	}
	n := &Network{
		spec:        spec,
		activations: make(map[string]*mat.Dense),
		training:    true,
		rng:         rand.New(rand.NewSource(seed)),
	}
	for i := range spec.Layers {
		layer := &spec.Layers[i]
		mod, err := n.buildModule(layer)
		if err != nil {
			return nil, fmt.Errorf("engine: layer %q: %w", layer.Name, err)
		}
		n.mods = append(n.mods, mod)
		n.names = append(n.names, layer.Name)
		n.params = append(n.params, mod.parameters()...)
	}
	return n, nil
}

func (n *Network) buildModule(layer *layers.LayerSpec) (module, error) {
	switch layer.Type {
	case layers.Dense:
		inputSize := layers.IntParam(layer.Parameters, "input_size", 0)
		outputSize := layers.IntParam(layer.Parameters, "output_size", 0)
		useBias := layers.BoolParam(layer.Parameters, "use_bias", true)
		if inputSize <= 0 || outputSize <= 0 {
			return nil, fmt.Errorf("invalid dense sizes %dx%d", inputSize, outputSize)
		}
		return newDenseModule(layer.Name, inputSize, outputSize, useBias, n.rng), nil

	case layers.ReLU:
		return newReLUModule(), nil

	case layers.Tanh:
		return newTanhModule(), nil

	case layers.Dropout:
		rate := layers.FloatParam(layer.Parameters, "rate", 0.5)
		return newDropoutModule(rate, n.rng), nil

	case layers.Reshape:
		return reshapeModule{}, nil

	case layers.LSTM:
		if len(layer.InputShape) != 3 {
			return nil, fmt.Errorf("lstm needs sequence input, got shape %v", layer.InputShape)
		}
		hidden := layers.IntParam(layer.Parameters, "hidden_size", 0)
		returnSeq := layers.BoolParam(layer.Parameters, "return_sequences", false)
		stateful := layers.BoolParam(layer.Parameters, "stateful", false)
		if hidden <= 0 {
			return nil, fmt.Errorf("invalid lstm hidden size %d", hidden)
		}
		if stateful {
			n.stateful = true
		}
		return newLSTMModule(layer.Name, layer.InputShape[2], hidden, layer.InputShape[1], returnSeq, stateful, n.rng), nil

	case layers.HomoscedasticLoss:
		if len(layer.InputShape) != 2 {
			return nil, fmt.Errorf("loss head needs flat input, got shape %v", layer.InputShape)
		}
		posDims := layers.IntParam(layer.Parameters, "position_dims", 3)
		initSPos := layers.FloatParam(layer.Parameters, "init_s_pos", 0)
		initSQuat := layers.FloatParam(layer.Parameters, "init_s_quat", 0)
		n.hasAuxHead = true
		return newHomoscedasticModule(layer.Name, posDims, layer.InputShape[1], initSPos, initSQuat), nil

	default:
		return nil, fmt.Errorf("unsupported layer type %s", layer.Type.String())
	}
}

// Spec returns the compiled specification the network was built from.
func (n *Network) Spec() *layers.ModelSpec { return n.spec }

// HasAuxHead reports whether the final layer is a trainable loss head that
// consumes labels as a secondary input.
func (n *Network) HasAuxHead() bool { return n.hasAuxHead }

// Stateful reports whether any recurrent layer carries state across
// forward calls.
func (n *Network) Stateful() bool { return n.stateful }

// Train puts the network in training mode (dropout active).
func (n *Network) Train() {
	n.training = true
	for _, m := range n.mods {
		m.setTraining(true)
	}
}

// Eval puts the network in inference mode.
func (n *Network) Eval() {
	n.training = false
	for _, m := range n.mods {
		m.setTraining(false)
	}
}

// IsTraining reports the current mode.
func (n *Network) IsTraining() bool { return n.training }

// ResetStates clears carried recurrent state on every stateful layer.
func (n *Network) ResetStates() {
	for _, m := range n.mods {
		m.resetState()
	}
}

// Parameters returns the live parameter list in layer order.
func (n *Network) Parameters() []*Parameter { return n.params }

// ParameterByName finds a parameter by its qualified name.
func (n *Network) ParameterByName(name string) (*Parameter, error) {
	for _, p := range n.params {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: parameter %q", ErrLayerNotFound, name)
}

// SetParameter overwrites a named parameter's values, e.g. when restoring
// a checkpoint.
func (n *Network) SetParameter(name string, data []float64) error {
	p, err := n.ParameterByName(name)
	if err != nil {
		return err
	}
	if len(data) != len(p.Data) {
		return fmt.Errorf("engine: parameter %q size mismatch: have %d values, want %d", name, len(data), len(p.Data))
	}
	copy(p.Data, data)
	return nil
}

// HasLayer reports whether the compiled model contains a layer with the
// given name.
func (n *Network) HasLayer(name string) bool {
	for _, ln := range n.names {
		if ln == name {
			return true
		}
	}
	return false
}

// Activation returns a copy of the named layer's output from the most
// recent forward pass.
func (n *Network) Activation(name string) (*mat.Dense, error) {
	act, ok := n.activations[name]
	if !ok {
		if !n.HasLayer(name) {
			return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
		}
		return nil, fmt.Errorf("engine: no activation recorded for layer %q, run a forward pass first", name)
	}
	return mat.DenseCopyOf(act), nil
}

func (n *Network) forward(main, auxLabels *mat.Dense) (*mat.Dense, error) {
	ctx := &forwardCtx{auxLabels: auxLabels}
	x := main
	for i, m := range n.mods {
		out, err := m.forward(x, ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: forward through %q: %w", n.names[i], err)
		}
		n.activations[n.names[i]] = out
		x = out
	}
	return x, nil
}

func (n *Network) backward(grad *mat.Dense) error {
	g := grad
	for i := len(n.mods) - 1; i >= 0; i-- {
		var err error
		g, err = n.mods[i].backward(g)
		if err != nil {
			return fmt.Errorf("engine: backward through %q: %w", n.names[i], err)
		}
	}
	return nil
}

func (n *Network) zeroGrads() {
	for _, p := range n.params {
		p.zeroGrad()
	}
}

// TrainStep runs one optimization step on a batch: forward, loss, backward,
// parameter update. auxLabels may be nil when no loss head consumes them.
// It returns the batch loss.
func (n *Network) TrainStep(main, auxLabels, target *mat.Dense, criterion Loss, opt Updater) (float64, error) {
	if !n.training {
		n.Train()
	}
	out, err := n.forward(main, auxLabels)
	if err != nil {
		return 0, err
	}
	loss, grad, err := criterion.Compute(out, target)
	if err != nil {
		return 0, err
	}
	n.zeroGrads()
	if err := n.backward(grad); err != nil {
		return 0, err
	}
	if err := opt.Step(n.params); err != nil {
		return 0, fmt.Errorf("engine: optimizer step: %w", err)
	}
	return loss, nil
}

// EvalLoss scores a batch without touching weights or dropout masks.
// Stateful layers still advance their carried state.
func (n *Network) EvalLoss(main, auxLabels, target *mat.Dense, criterion Loss) (float64, error) {
	wasTraining := n.training
	if wasTraining {
		n.Eval()
	}
	out, err := n.forward(main, auxLabels)
	if wasTraining {
		n.Train()
	}
	if err != nil {
		return 0, err
	}
	loss, _, err := criterion.Compute(out, target)
	return loss, err
}

// Infer runs an inference forward pass and returns a copy of the final
// output. Intermediate activations stay readable via Activation.
func (n *Network) Infer(main, auxLabels *mat.Dense) (*mat.Dense, error) {
	wasTraining := n.training
	if wasTraining {
		n.Eval()
	}
	out, err := n.forward(main, auxLabels)
	if wasTraining {
		n.Train()
	}
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(out), nil
}
