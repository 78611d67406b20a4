package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Loss scores a batch of network outputs against targets and produces the
// gradient of the scalar loss with respect to the outputs.
type Loss interface {
	Name() string
	Compute(output, target *mat.Dense) (float64, *mat.Dense, error)
}

// NaiveWeightedLoss is a fixed-weight pose objective:
//
//	L = mean_b[ msePos(b) + beta*mseQuat(b) ]
//
// with msePos over the first PositionDims columns and mseQuat over the rest.
type NaiveWeightedLoss struct {
	Beta         float64
	PositionDims int
}

// NewNaiveWeightedLoss builds the fixed-weight objective. Beta scales the
// orientation term relative to position.
func NewNaiveWeightedLoss(beta float64, positionDims int) *NaiveWeightedLoss {
	return &NaiveWeightedLoss{Beta: beta, PositionDims: positionDims}
}

func (l *NaiveWeightedLoss) Name() string { return "naive_weighted" }

func (l *NaiveWeightedLoss) Compute(output, target *mat.Dense) (float64, *mat.Dense, error) {
	rows, cols := output.Dims()
	tr, tc := target.Dims()
	if tr != rows || tc != cols {
		return 0, nil, fmt.Errorf("engine: loss shape mismatch: output (%d, %d), target (%d, %d)", rows, cols, tr, tc)
	}
	if l.PositionDims <= 0 || l.PositionDims >= cols {
		return 0, nil, fmt.Errorf("engine: position dims %d out of range for %d outputs", l.PositionDims, cols)
	}
	quatDims := cols - l.PositionDims

	grad := mat.NewDense(rows, cols, nil)
	var total float64
	for r := 0; r < rows; r++ {
		var pos, quat float64
		for j := 0; j < l.PositionDims; j++ {
			d := output.At(r, j) - target.At(r, j)
			pos += d * d
			grad.Set(r, j, 2*d/float64(l.PositionDims)/float64(rows))
		}
		for j := l.PositionDims; j < cols; j++ {
			d := output.At(r, j) - target.At(r, j)
			quat += d * d
			grad.Set(r, j, l.Beta*2*d/float64(quatDims)/float64(rows))
		}
		total += pos/float64(l.PositionDims) + l.Beta*quat/float64(quatDims)
	}
	return total / float64(rows), grad, nil
}

// AuxHeadLoss pairs with a loss head that already emits per-sample loss
// values. The target is a zero placeholder with one entry per sample; the
// scalar loss is the mean head output and the gradient is uniform.
type AuxHeadLoss struct{}

// NewAuxHeadLoss builds the placeholder-target objective used with
// trainable loss heads.
func NewAuxHeadLoss() *AuxHeadLoss { return &AuxHeadLoss{} }

func (l *AuxHeadLoss) Name() string { return "aux_head" }

func (l *AuxHeadLoss) Compute(output, target *mat.Dense) (float64, *mat.Dense, error) {
	rows, cols := output.Dims()
	if cols != 1 {
		return 0, nil, fmt.Errorf("engine: aux head loss expects single-column output, got %d columns", cols)
	}
	if target != nil {
		tr, _ := target.Dims()
		if tr != rows {
			return 0, nil, fmt.Errorf("engine: aux head target length mismatch: output %d rows, target %d", rows, tr)
		}
	}
	grad := mat.NewDense(rows, 1, nil)
	var total float64
	for r := 0; r < rows; r++ {
		total += output.At(r, 0)
		grad.Set(r, 0, 1.0/float64(rows))
	}
	return total / float64(rows), grad, nil
}
