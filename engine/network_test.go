package engine

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/layers"
)

type noopUpdater struct{}

func (noopUpdater) Step([]*Parameter) error { return nil }

type sgdUpdater struct{ lr float64 }

func (s sgdUpdater) Step(params []*Parameter) error {
	for _, p := range params {
		for i := range p.Data {
			p.Data[i] -= s.lr * p.Grad[i]
		}
	}
	return nil
}

func compile(t *testing.T, b *layers.ModelBuilder) *layers.ModelSpec {
	t.Helper()
	spec, err := b.Compile()
	if err != nil {
		t.Fatalf("failed to compile model: %v", err)
	}
	return spec
}

func TestDenseForwardKnownValues(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{1, 2}).
		AddDense(2, true, "fc"))
	net, err := NewNetwork(spec, 1)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}
	if err := net.SetParameter("fc/weight", []float64{1, 2, 3, 4}); err != nil {
		t.Fatalf("failed to set weight: %v", err)
	}
	if err := net.SetParameter("fc/bias", []float64{0.5, -0.5}); err != nil {
		t.Fatalf("failed to set bias: %v", err)
	}

	out, err := net.Infer(mat.NewDense(1, 2, []float64{1, 1}), nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	want := []float64{4.5, 5.5}
	for j, w := range want {
		if got := out.At(0, j); math.Abs(got-w) > 1e-12 {
			t.Errorf("output[%d] = %v, want %v", j, got, w)
		}
	}
}

func TestNetworkDeterministicBySeed(t *testing.T) {
	build := func(seed int64) *Network {
		spec := compile(t, layers.NewModelBuilder([]int{4, 8}).
			AddDense(16, true, "fc1").
			AddReLU("relu1").
			AddDense(7, true, "prediction"))
		net, err := NewNetwork(spec, seed)
		if err != nil {
			t.Fatalf("failed to build network: %v", err)
		}
		return net
	}

	a, b, c := build(42), build(42), build(43)
	pa, pb, pc := a.Parameters(), b.Parameters(), c.Parameters()
	if len(pa) != len(pb) {
		t.Fatalf("parameter count mismatch: %d vs %d", len(pa), len(pb))
	}
	var diffFromC bool
	for i := range pa {
		for j := range pa[i].Data {
			if pa[i].Data[j] != pb[i].Data[j] {
				t.Fatalf("same seed produced different weights at %s[%d]", pa[i].Name, j)
			}
			if pa[i].Data[j] != pc[i].Data[j] {
				diffFromC = true
			}
		}
	}
	if !diffFromC {
		t.Error("different seeds produced identical weights")
	}
}

// numericalGrad estimates dLoss/dParam by central differences using eval
// mode forward passes.
func numericalGrad(t *testing.T, net *Network, main, aux, target *mat.Dense, criterion Loss, p *Parameter, i int) float64 {
	t.Helper()
	const eps = 1e-6
	orig := p.Data[i]

	p.Data[i] = orig + eps
	lp, err := net.EvalLoss(main, aux, target, criterion)
	if err != nil {
		t.Fatalf("eval loss failed: %v", err)
	}
	p.Data[i] = orig - eps
	lm, err := net.EvalLoss(main, aux, target, criterion)
	if err != nil {
		t.Fatalf("eval loss failed: %v", err)
	}
	p.Data[i] = orig
	return (lp - lm) / (2 * eps)
}

func checkGradients(t *testing.T, net *Network, main, aux, target *mat.Dense, criterion Loss) {
	t.Helper()
	net.Eval()
	if _, err := net.TrainStep(main, aux, target, criterion, noopUpdater{}); err != nil {
		t.Fatalf("train step failed: %v", err)
	}
	net.Eval()
	for _, p := range net.Parameters() {
		for i := range p.Data {
			want := numericalGrad(t, net, main, aux, target, criterion, p, i)
			got := p.Grad[i]
			scale := math.Max(math.Abs(want), math.Abs(got))
			if scale < 1e-8 {
				continue
			}
			if math.Abs(got-want)/scale > 1e-4 {
				t.Errorf("%s[%d]: analytic grad %v, numerical %v", p.Name, i, got, want)
			}
		}
	}
}

func TestGradientsDenseTanh(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{3, 5}).
		AddDense(6, true, "fc1").
		AddTanh("tanh1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 7)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}

	main := randomDense(3, 5, 11)
	target := randomDense(3, 7, 13)
	checkGradients(t, net, main, nil, target, NewNaiveWeightedLoss(200, 3))
}

func TestGradientsLSTM(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{2, 3, 4}).
		AddLSTM(3, false, false, "lstm1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 9)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}

	main := randomDense(2, 12, 17)
	target := randomDense(2, 7, 19)
	checkGradients(t, net, main, nil, target, NewNaiveWeightedLoss(1, 3))
}

func TestGradientsHomoscedasticHead(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{3, 4}).
		AddDense(7, true, "prediction").
		AddHomoscedasticLoss(3, 0.0, -3.0, "homoscedastic"))
	net, err := NewNetwork(spec, 21)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}
	if !net.HasAuxHead() {
		t.Fatal("expected network to report an auxiliary loss head")
	}

	main := randomDense(3, 4, 23)
	labels := randomDense(3, 7, 29)
	target := mat.NewDense(3, 1, nil)
	checkGradients(t, net, main, labels, target, NewAuxHeadLoss())
}

func TestHomoscedasticRequiresLabels(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{2, 4}).
		AddDense(7, true, "prediction").
		AddHomoscedasticLoss(3, 0.0, -3.0, "homoscedastic"))
	net, err := NewNetwork(spec, 3)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}
	if _, err := net.Infer(randomDense(2, 4, 5), nil); err == nil {
		t.Fatal("expected error when labels input is missing")
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{8, 4}).
		AddDense(16, true, "fc1").
		AddTanh("tanh1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 5)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}

	main := randomDense(8, 4, 31)
	target := randomDense(8, 7, 37)
	criterion := NewNaiveWeightedLoss(10, 3)
	opt := sgdUpdater{lr: 0.01}

	first, err := net.TrainStep(main, nil, target, criterion, opt)
	if err != nil {
		t.Fatalf("train step failed: %v", err)
	}
	var last float64
	for i := 0; i < 50; i++ {
		last, err = net.TrainStep(main, nil, target, criterion, opt)
		if err != nil {
			t.Fatalf("train step %d failed: %v", i, err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}

func TestStatefulLSTMCarriesState(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{2, 5, 3}).
		AddLSTM(4, false, true, "lstm1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 9)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}
	if !net.Stateful() {
		t.Fatal("expected network to report stateful layers")
	}

	batch := randomDense(2, 15, 41)
	first, err := net.Infer(batch, nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	carried, err := net.Infer(batch, nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if mat.EqualApprox(first, carried, 1e-12) {
		t.Error("second pass should differ while state is carried")
	}

	net.ResetStates()
	fresh, err := net.Infer(batch, nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if !mat.EqualApprox(first, fresh, 1e-12) {
		t.Error("reset did not restore the initial state")
	}
}

func TestActivationByName(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{2, 4}).
		AddDense(5, true, "fc1").
		AddReLU("relu1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 15)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}

	if _, err := net.Activation("prediction"); err == nil {
		t.Fatal("expected error before any forward pass")
	}

	out, err := net.Infer(randomDense(2, 4, 43), nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	act, err := net.Activation("prediction")
	if err != nil {
		t.Fatalf("activation lookup failed: %v", err)
	}
	if !mat.EqualApprox(out, act, 1e-12) {
		t.Error("final activation should match the inference output")
	}

	if _, err := net.Activation("missing"); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("expected ErrLayerNotFound, got %v", err)
	}
}

func TestDropoutOnlyInTrainingMode(t *testing.T) {
	spec := compile(t, layers.NewModelBuilder([]int{4, 6}).
		AddDense(6, true, "fc1").
		AddDropout(0.5, "drop1").
		AddDense(7, true, "prediction"))
	net, err := NewNetwork(spec, 33)
	if err != nil {
		t.Fatalf("failed to build network: %v", err)
	}

	batch := randomDense(4, 6, 47)
	a, err := net.Infer(batch, nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	b, err := net.Infer(batch, nil)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if !mat.EqualApprox(a, b, 1e-12) {
		t.Error("inference should be deterministic with dropout disabled")
	}
}

func randomDense(rows, cols int, seed int64) *mat.Dense {
	data := make([]float64, rows*cols)
	s := seed
	for i := range data {
		s = (s*6364136223846793005 + 1442695040888963407) & 0x7fffffffffffffff
		data[i] = float64(s%2000)/1000.0 - 1.0
	}
	return mat.NewDense(rows, cols, data)
}
