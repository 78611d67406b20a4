package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// homoscedasticModule is a loss head with two trainable log-variance
// scalars. Given predictions (B, P) and true labels of the same shape fed
// through the forward context, it emits one value per sample:
//
//	exp(-sPos)*msePos + sPos + exp(-sQuat)*mseQuat + sQuat
//
// where msePos averages squared error over the first positionDims columns
// and mseQuat over the rest. Training against a zero target then minimizes
// the mean of this output, which learns the loss weighting jointly with the
// network.
type homoscedasticModule struct {
	sPos *Parameter
	sQuat *Parameter

	positionDims int
	width        int

	pred   *mat.Dense
	labels *mat.Dense
	msePos []float64
	mseQuat []float64
}

func newHomoscedasticModule(name string, positionDims, width int, initSPos, initSQuat float64) *homoscedasticModule {
	h := &homoscedasticModule{
		sPos:         newParameter(name + "/s_pos"),
		sQuat:        newParameter(name + "/s_quat"),
		positionDims: positionDims,
		width:        width,
	}
	h.sPos.Shape = []int{1}
	h.sPos.Data = []float64{initSPos}
	h.sPos.Grad = []float64{0}
	h.sQuat.Shape = []int{1}
	h.sQuat.Data = []float64{initSQuat}
	h.sQuat.Grad = []float64{0}
	return h
}

func (h *homoscedasticModule) forward(x *mat.Dense, ctx *forwardCtx) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != h.width {
		return nil, fmt.Errorf("engine: homoscedastic head width mismatch: expected %d, got %d", h.width, cols)
	}
	if ctx == nil || ctx.auxLabels == nil {
		return nil, fmt.Errorf("engine: homoscedastic head requires labels on the %q input", "labels_input")
	}
	lr, lc := ctx.auxLabels.Dims()
	if lr != rows || lc != cols {
		return nil, fmt.Errorf("engine: homoscedastic label shape mismatch: predictions (%d, %d), labels (%d, %d)", rows, cols, lr, lc)
	}

	h.pred = x
	h.labels = ctx.auxLabels
	h.msePos = make([]float64, rows)
	h.mseQuat = make([]float64, rows)

	sPos := h.sPos.Data[0]
	sQuat := h.sQuat.Data[0]
	quatDims := cols - h.positionDims

	out := mat.NewDense(rows, 1, nil)
	for r := 0; r < rows; r++ {
		var pos, quat float64
		for j := 0; j < h.positionDims; j++ {
			d := x.At(r, j) - h.labels.At(r, j)
			pos += d * d
		}
		for j := h.positionDims; j < cols; j++ {
			d := x.At(r, j) - h.labels.At(r, j)
			quat += d * d
		}
		pos /= float64(h.positionDims)
		quat /= float64(quatDims)
		h.msePos[r] = pos
		h.mseQuat[r] = quat
		out.Set(r, 0, math.Exp(-sPos)*pos+sPos+math.Exp(-sQuat)*quat+sQuat)
	}
	return out, nil
}

func (h *homoscedasticModule) backward(dout *mat.Dense) (*mat.Dense, error) {
	if h.pred == nil {
		return nil, fmt.Errorf("engine: homoscedastic backward before forward")
	}
	rows, cols := h.pred.Dims()
	quatDims := cols - h.positionDims
	expPos := math.Exp(-h.sPos.Data[0])
	expQuat := math.Exp(-h.sQuat.Data[0])

	dx := mat.NewDense(rows, cols, nil)
	var dsPos, dsQuat float64
	for r := 0; r < rows; r++ {
		g := dout.At(r, 0)
		for j := 0; j < h.positionDims; j++ {
			d := h.pred.At(r, j) - h.labels.At(r, j)
			dx.Set(r, j, g*expPos*2*d/float64(h.positionDims))
		}
		for j := h.positionDims; j < cols; j++ {
			d := h.pred.At(r, j) - h.labels.At(r, j)
			dx.Set(r, j, g*expQuat*2*d/float64(quatDims))
		}
		dsPos += g * (1 - expPos*h.msePos[r])
		dsQuat += g * (1 - expQuat*h.mseQuat[r])
	}
	h.sPos.Grad[0] += dsPos
	h.sQuat.Grad[0] += dsQuat
	return dx, nil
}

func (h *homoscedasticModule) parameters() []*Parameter {
	return []*Parameter{h.sPos, h.sQuat}
}

func (h *homoscedasticModule) setTraining(bool) {}
func (h *homoscedasticModule) resetState()      {}
