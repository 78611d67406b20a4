package engine

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// lstmStepCache holds everything one timestep's backward pass needs.
type lstmStepCache struct {
	x     *mat.Dense // (B, D) input at t
	hPrev *mat.Dense // (B, H)
	cPrev *mat.Dense // (B, H)
	i     *mat.Dense // input gate, post-sigmoid
	f     *mat.Dense // forget gate
	g     *mat.Dense // candidate, post-tanh
	o     *mat.Dense // output gate
	c     *mat.Dense // cell state at t
	tanhC *mat.Dense // tanh(c)
}

// lstmModule runs a fused-gate LSTM over a sequence carried row-major as
// (B, T*D). Gate order inside the fused weights is [input, forget,
// candidate, output]. When stateful, the final hidden and cell state persist
// across forward calls until resetState.
type lstmModule struct {
	kernel    *Parameter // (D, 4H)
	recurrent *Parameter // (H, 4H)
	bias      *Parameter // (4H)

	wx *mat.Dense
	wh *mat.Dense

	inputSize  int
	hiddenSize int
	timesteps  int
	returnSeq  bool
	stateful   bool

	// carried state, nil means zeros at next forward
	h *mat.Dense
	c *mat.Dense

	steps []lstmStepCache
}

func newLSTMModule(name string, inputSize, hiddenSize, timesteps int, returnSeq, stateful bool, rng *rand.Rand) *lstmModule {
	l := &lstmModule{
		kernel:     newParameter(name+"/kernel", inputSize, 4*hiddenSize),
		recurrent:  newParameter(name+"/recurrent", hiddenSize, 4*hiddenSize),
		bias:       newParameter(name+"/bias", 4*hiddenSize),
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		timesteps:  timesteps,
		returnSeq:  returnSeq,
		stateful:   stateful,
	}
	xavierFill(l.kernel.Data, inputSize, 4*hiddenSize, rng)
	xavierFill(l.recurrent.Data, hiddenSize, 4*hiddenSize, rng)
	// forget gate bias starts at 1 so early training does not flush the cell
	for j := hiddenSize; j < 2*hiddenSize; j++ {
		l.bias.Data[j] = 1
	}
	l.wx = mat.NewDense(inputSize, 4*hiddenSize, l.kernel.Data)
	l.wh = mat.NewDense(hiddenSize, 4*hiddenSize, l.recurrent.Data)
	return l
}

func sigmoid(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) }

func (l *lstmModule) forward(x *mat.Dense, _ *forwardCtx) (*mat.Dense, error) {
	batch, cols := x.Dims()
	if cols != l.timesteps*l.inputSize {
		return nil, fmt.Errorf("engine: lstm input width mismatch: expected %d (%d steps of %d), got %d",
			l.timesteps*l.inputSize, l.timesteps, l.inputSize, cols)
	}

	h := l.h
	c := l.c
	if h == nil || c == nil {
		h = mat.NewDense(batch, l.hiddenSize, nil)
		c = mat.NewDense(batch, l.hiddenSize, nil)
	} else if r, _ := h.Dims(); r != batch {
		// carried state only applies to a consistent batch run
		h = mat.NewDense(batch, l.hiddenSize, nil)
		c = mat.NewDense(batch, l.hiddenSize, nil)
	}

	H := l.hiddenSize
	l.steps = make([]lstmStepCache, l.timesteps)
	var seqOut *mat.Dense
	if l.returnSeq {
		seqOut = mat.NewDense(batch, l.timesteps*H, nil)
	}

	for t := 0; t < l.timesteps; t++ {
		xt := denseView(x, 0, batch, t*l.inputSize, l.inputSize)

		z := new(mat.Dense)
		z.Mul(xt, l.wx)
		zh := new(mat.Dense)
		zh.Mul(h, l.wh)
		z.Add(z, zh)
		for r := 0; r < batch; r++ {
			row := z.RawRowView(r)
			for j := range row {
				row[j] += l.bias.Data[j]
			}
		}

		ig := mat.NewDense(batch, H, nil)
		fg := mat.NewDense(batch, H, nil)
		gg := mat.NewDense(batch, H, nil)
		og := mat.NewDense(batch, H, nil)
		for r := 0; r < batch; r++ {
			zr := z.RawRowView(r)
			for j := 0; j < H; j++ {
				ig.Set(r, j, sigmoid(zr[j]))
				fg.Set(r, j, sigmoid(zr[H+j]))
				gg.Set(r, j, math.Tanh(zr[2*H+j]))
				og.Set(r, j, sigmoid(zr[3*H+j]))
			}
		}

		cNext := mat.NewDense(batch, H, nil)
		tanhC := mat.NewDense(batch, H, nil)
		hNext := mat.NewDense(batch, H, nil)
		for r := 0; r < batch; r++ {
			for j := 0; j < H; j++ {
				cv := fg.At(r, j)*c.At(r, j) + ig.At(r, j)*gg.At(r, j)
				cNext.Set(r, j, cv)
				tc := math.Tanh(cv)
				tanhC.Set(r, j, tc)
				hNext.Set(r, j, og.At(r, j)*tc)
			}
		}

		l.steps[t] = lstmStepCache{
			x: xt, hPrev: h, cPrev: c,
			i: ig, f: fg, g: gg, o: og,
			c: cNext, tanhC: tanhC,
		}
		h = hNext
		c = cNext

		if l.returnSeq {
			for r := 0; r < batch; r++ {
				for j := 0; j < H; j++ {
					seqOut.Set(r, t*H+j, h.At(r, j))
				}
			}
		}
	}

	if l.stateful {
		l.h = mat.DenseCopyOf(h)
		l.c = mat.DenseCopyOf(c)
	}

	if l.returnSeq {
		return seqOut, nil
	}
	return h, nil
}

func (l *lstmModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if len(l.steps) == 0 {
		return nil, fmt.Errorf("engine: lstm backward before forward")
	}
	batch, _ := l.steps[0].x.Dims()
	H := l.hiddenSize
	D := l.inputSize

	dWx := mat.NewDense(D, 4*H, nil)
	dWh := mat.NewDense(H, 4*H, nil)
	db := make([]float64, 4*H)
	dx := mat.NewDense(batch, l.timesteps*D, nil)

	dhNext := mat.NewDense(batch, H, nil)
	dcNext := mat.NewDense(batch, H, nil)

	for t := l.timesteps - 1; t >= 0; t-- {
		st := l.steps[t]

		dh := mat.DenseCopyOf(dhNext)
		if l.returnSeq {
			for r := 0; r < batch; r++ {
				for j := 0; j < H; j++ {
					dh.Set(r, j, dh.At(r, j)+dout.At(r, t*H+j))
				}
			}
		} else if t == l.timesteps-1 {
			dh.Add(dh, dout)
		}

		dz := mat.NewDense(batch, 4*H, nil)
		dcPrev := mat.NewDense(batch, H, nil)
		for r := 0; r < batch; r++ {
			for j := 0; j < H; j++ {
				dhv := dh.At(r, j)
				tc := st.tanhC.At(r, j)
				ov := st.o.At(r, j)
				dc := dhv*ov*(1-tc*tc) + dcNext.At(r, j)

				iv := st.i.At(r, j)
				fv := st.f.At(r, j)
				gv := st.g.At(r, j)

				di := dc * gv
				df := dc * st.cPrev.At(r, j)
				dg := dc * iv
				do := dhv * tc

				dz.Set(r, j, di*iv*(1-iv))
				dz.Set(r, H+j, df*fv*(1-fv))
				dz.Set(r, 2*H+j, dg*(1-gv*gv))
				dz.Set(r, 3*H+j, do*ov*(1-ov))

				dcPrev.Set(r, j, dc*fv)
			}
		}

		tmp := new(mat.Dense)
		tmp.Mul(st.x.T(), dz)
		dWx.Add(dWx, tmp)

		tmp = new(mat.Dense)
		tmp.Mul(st.hPrev.T(), dz)
		dWh.Add(dWh, tmp)

		for j := 0; j < 4*H; j++ {
			var s float64
			for r := 0; r < batch; r++ {
				s += dz.At(r, j)
			}
			db[j] += s
		}

		dxt := new(mat.Dense)
		dxt.Mul(dz, l.wx.T())
		for r := 0; r < batch; r++ {
			for j := 0; j < D; j++ {
				dx.Set(r, t*D+j, dxt.At(r, j))
			}
		}

		dhNext.Mul(dz, l.wh.T())
		dcNext = dcPrev
	}

	addTo(l.kernel.Grad, dWx)
	addTo(l.recurrent.Grad, dWh)
	for j, v := range db {
		l.bias.Grad[j] += v
	}
	return dx, nil
}

func (l *lstmModule) parameters() []*Parameter {
	return []*Parameter{l.kernel, l.recurrent, l.bias}
}

func (l *lstmModule) setTraining(bool) {}

func (l *lstmModule) resetState() {
	l.h = nil
	l.c = nil
}

// denseView returns a (rows, width) submatrix view of m starting at column
// col0. The view shares backing storage with m.
func denseView(m *mat.Dense, row0, rows, col0, width int) *mat.Dense {
	return m.Slice(row0, row0+rows, col0, col0+width).(*mat.Dense)
}
