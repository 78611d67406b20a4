package engine

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Parameter is one trainable tensor. Data is the live weight storage shared
// with the module's matrices; Grad accumulates gradients between optimizer
// steps.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

func newParameter(name string, shape ...int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Name:  name,
		Shape: shape,
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// zeroGrad clears accumulated gradients in place.
func (p *Parameter) zeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// xavierFill initializes data with Glorot uniform values,
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func xavierFill(data []float64, fanIn, fanOut int, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = (rng.Float64()*2.0 - 1.0) * bound
	}
}

// forwardCtx carries per-call inputs that are not part of the main
// activation stream.
type forwardCtx struct {
	// auxLabels holds true labels when a loss head consumes them as a
	// secondary input.
	auxLabels *mat.Dense
}

// module is one executable layer. Forward caches whatever backward needs;
// backward returns the gradient with respect to the module input and
// accumulates parameter gradients.
type module interface {
	forward(x *mat.Dense, ctx *forwardCtx) (*mat.Dense, error)
	backward(dout *mat.Dense) (*mat.Dense, error)
	parameters() []*Parameter
	setTraining(training bool)
	resetState()
}

// denseModule implements y = xW + b.
type denseModule struct {
	weight *Parameter
	bias   *Parameter
	w      *mat.Dense // view over weight.Data
	in     int
	out    int
	x      *mat.Dense // cached input
}

func newDenseModule(name string, inputSize, outputSize int, useBias bool, rng *rand.Rand) *denseModule {
	d := &denseModule{
		weight: newParameter(name+"/weight", inputSize, outputSize),
		in:     inputSize,
		out:    outputSize,
	}
	xavierFill(d.weight.Data, inputSize, outputSize, rng)
	d.w = mat.NewDense(inputSize, outputSize, d.weight.Data)
	if useBias {
		d.bias = newParameter(name+"/bias", outputSize)
	}
	return d
}

func (d *denseModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) {
	_, cols := x.Dims()
	if cols != d.in {
		return nil, fmt.Errorf("engine: dense input size mismatch: expected %d, got %d", d.in, cols)
	}
	d.x = x
	out := new(mat.Dense)
	out.Mul(x, d.w)
	if d.bias != nil {
		rows, _ := out.Dims()
		for i := 0; i < rows; i++ {
			row := out.RawRowView(i)
			for j := range row {
				row[j] += d.bias.Data[j]
			}
		}
	}
	return out, nil
}

func (d *denseModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if d.x == nil {
		return nil, fmt.Errorf("engine: dense backward before forward")
	}
	// dW += x^T dout
	dw := new(mat.Dense)
	dw.Mul(d.x.T(), dout)
	addTo(d.weight.Grad, dw)

	if d.bias != nil {
		rows, cols := dout.Dims()
		for j := 0; j < cols; j++ {
			var s float64
			for i := 0; i < rows; i++ {
				s += dout.At(i, j)
			}
			d.bias.Grad[j] += s
		}
	}

	dx := new(mat.Dense)
	dx.Mul(dout, d.w.T())
	return dx, nil
}

func (d *denseModule) parameters() []*Parameter {
	if d.bias != nil {
		return []*Parameter{d.weight, d.bias}
	}
	return []*Parameter{d.weight}
}

func (d *denseModule) setTraining(bool) {}
func (d *denseModule) resetState()      {}

// addTo accumulates the elements of m into dst, which must have matching size.
func addTo(dst []float64, m *mat.Dense) {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		for i, v := range raw.Data {
			dst[i] += v
		}
		return
	}
	idx := 0
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for _, v := range row {
			dst[idx] += v
			idx++
		}
	}
}

// reluModule applies max(0, x) elementwise.
type reluModule struct {
	x *mat.Dense
}

func newReLUModule() *reluModule { return &reluModule{} }

func (r *reluModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) {
	r.x = x
	out := new(mat.Dense)
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	return out, nil
}

func (r *reluModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if r.x == nil {
		return nil, fmt.Errorf("engine: relu backward before forward")
	}
	dx := new(mat.Dense)
	dx.Apply(func(i, j int, v float64) float64 {
		if r.x.At(i, j) > 0 {
			return v
		}
		return 0
	}, dout)
	return dx, nil
}

func (r *reluModule) parameters() []*Parameter { return nil }
func (r *reluModule) setTraining(bool)         {}
func (r *reluModule) resetState()              {}

// tanhModule applies tanh elementwise.
type tanhModule struct {
	y *mat.Dense
}

func newTanhModule() *tanhModule { return &tanhModule{} }

func (t *tanhModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) {
	out := new(mat.Dense)
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	t.y = out
	return out, nil
}

func (t *tanhModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if t.y == nil {
		return nil, fmt.Errorf("engine: tanh backward before forward")
	}
	dx := new(mat.Dense)
	dx.Apply(func(i, j int, v float64) float64 {
		y := t.y.At(i, j)
		return v * (1 - y*y)
	}, dout)
	return dx, nil
}

func (t *tanhModule) parameters() []*Parameter { return nil }
func (t *tanhModule) setTraining(bool)         {}
func (t *tanhModule) resetState()              {}

// dropoutModule zeroes activations with probability rate during training and
// scales survivors by 1/(1-rate) so expectations match eval mode.
type dropoutModule struct {
	rate     float64
	training bool
	rng      *rand.Rand
	mask     *mat.Dense
}

func newDropoutModule(rate float64, rng *rand.Rand) *dropoutModule {
	return &dropoutModule{rate: rate, training: true, rng: rng}
}

func (d *dropoutModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) {
	if !d.training || d.rate <= 0 {
		d.mask = nil
		return x, nil
	}
	if d.rate >= 1 {
		return nil, fmt.Errorf("engine: dropout rate must be below 1, got %v", d.rate)
	}
	rows, cols := x.Dims()
	scale := 1.0 / (1.0 - d.rate)
	mask := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if d.rng.Float64() >= d.rate {
				mask.Set(i, j, scale)
			}
		}
	}
	d.mask = mask
	out := new(mat.Dense)
	out.MulElem(x, mask)
	return out, nil
}

func (d *dropoutModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if d.mask == nil {
		return dout, nil
	}
	dx := new(mat.Dense)
	dx.MulElem(dout, d.mask)
	return dx, nil
}

func (d *dropoutModule) parameters() []*Parameter { return nil }
func (d *dropoutModule) setTraining(t bool)       { d.training = t }
func (d *dropoutModule) resetState()              {}

// reshapeModule only reinterprets per-sample layout; the row-major data is
// unchanged, so forward and backward are identity on the 2D carrier matrix.
type reshapeModule struct{}

func (reshapeModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) { return x, nil }
func (reshapeModule) backward(dout *mat.Dense) (*mat.Dense, error)            { return dout, nil }
func (reshapeModule) parameters() []*Parameter                                { return nil }
func (reshapeModule) setTraining(bool)                                        {}
func (reshapeModule) resetState()                                             {}
