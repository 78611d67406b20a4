package training

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrMissingStarts is returned when a sequence-aware metric is evaluated
// without sequence starting indices.
var ErrMissingStarts = errors.New("training: sequence-aware metric requires starting indices")

// RegressionMetrics holds standard regression quality measures.
type RegressionMetrics struct {
	MAE  float64 // mean absolute error
	MSE  float64 // mean squared error
	RMSE float64 // root mean squared error
	R2   float64 // coefficient of determination
	NMAE float64 // MAE normalized by the range of true values
}

// CalculateRegressionMetrics computes regression metrics over all elements
// of the prediction and truth matrices, which must share dimensions.
func CalculateRegressionMetrics(predictions, trueValues *mat.Dense) (*RegressionMetrics, error) {
	pr, pc := predictions.Dims()
	tr, tc := trueValues.Dims()
	if pr != tr || pc != tc {
		return nil, fmt.Errorf("dimension mismatch: predictions %dx%d, true values %dx%d", pr, pc, tr, tc)
	}
	n := pr * pc
	if n == 0 {
		return nil, fmt.Errorf("cannot compute metrics on empty matrices")
	}

	var sumAbs, sumSq, sumTrue float64
	minTrue, maxTrue := math.Inf(1), math.Inf(-1)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			p := predictions.At(i, j)
			t := trueValues.At(i, j)
			diff := p - t
			sumAbs += math.Abs(diff)
			sumSq += diff * diff
			sumTrue += t
			if t < minTrue {
				minTrue = t
			}
			if t > maxTrue {
				maxTrue = t
			}
		}
	}

	meanTrue := sumTrue / float64(n)
	var sumSqTotal float64
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			d := trueValues.At(i, j) - meanTrue
			sumSqTotal += d * d
		}
	}

	m := &RegressionMetrics{
		MAE: sumAbs / float64(n),
		MSE: sumSq / float64(n),
	}
	m.RMSE = math.Sqrt(m.MSE)
	if sumSqTotal > 0 {
		m.R2 = 1 - sumSq/sumSqTotal
	}
	if r := maxTrue - minTrue; r > 0 {
		m.NMAE = m.MAE / r
	}
	return m, nil
}

// positionDims and quaternion layout of a pose vector: three position
// coordinates followed by a four-component orientation quaternion.
const (
	positionDims = 3
	poseDims     = 7
)

// PositionError returns the mean Euclidean distance in the position
// coordinates between predicted and true poses.
func PositionError(pred, truth *mat.Dense) (float64, error) {
	rows, err := checkPoseDims(pred, truth)
	if err != nil {
		return 0, err
	}
	var total float64
	for i := 0; i < rows; i++ {
		var sq float64
		for j := 0; j < positionDims; j++ {
			d := pred.At(i, j) - truth.At(i, j)
			sq += d * d
		}
		total += math.Sqrt(sq)
	}
	return total / float64(rows), nil
}

// OrientationError returns the mean angular distance in degrees between
// predicted and true orientation quaternions. Both quaternions are
// normalized before comparison; a zero-norm quaternion counts as maximally
// wrong.
func OrientationError(pred, truth *mat.Dense) (float64, error) {
	rows, err := checkPoseDims(pred, truth)
	if err != nil {
		return 0, err
	}
	var total float64
	for i := 0; i < rows; i++ {
		var dot, np, nt float64
		for j := positionDims; j < poseDims; j++ {
			p := pred.At(i, j)
			t := truth.At(i, j)
			dot += p * t
			np += p * p
			nt += t * t
		}
		np = math.Sqrt(np)
		nt = math.Sqrt(nt)
		if np == 0 || nt == 0 {
			total += math.Pi
			continue
		}
		c := math.Abs(dot / (np * nt))
		if c > 1 {
			c = 1
		}
		total += 2 * math.Acos(c)
	}
	return total / float64(rows) * 180 / math.Pi, nil
}

func checkPoseDims(pred, truth *mat.Dense) (int, error) {
	pr, pc := pred.Dims()
	tr, tc := truth.Dims()
	if pr != tr || pc != tc {
		return 0, fmt.Errorf("dimension mismatch: predictions %dx%d, true values %dx%d", pr, pc, tr, tc)
	}
	if pc < poseDims {
		return 0, fmt.Errorf("pose metrics need %d columns, got %d", poseDims, pc)
	}
	if pr == 0 {
		return 0, fmt.Errorf("cannot compute metrics on empty matrices")
	}
	return pr, nil
}

// Metric is a named evaluation function over predictions and true values.
// Sequence-aware metrics additionally report a value per sequence, using
// the starting indices that mark sequence boundaries in the row order.
type Metric struct {
	Name          string
	SequenceAware bool
	fn            func(pred, truth *mat.Dense) (float64, error)
}

// PoseMetrics returns the metric set reported for pose regression output.
func PoseMetrics() []Metric {
	return []Metric{
		{Name: "position_error", SequenceAware: true, fn: PositionError},
		{Name: "orientation_error", SequenceAware: true, fn: OrientationError},
	}
}

// Evaluate computes the metric. Sequence-unaware metrics return a single
// value over all rows. Sequence-aware metrics return the overall value
// followed by one value per sequence, and fail when starts is empty.
func (m Metric) Evaluate(pred, truth *mat.Dense, starts []int) ([]float64, error) {
	overall, err := m.fn(pred, truth)
	if err != nil {
		return nil, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	if !m.SequenceAware {
		return []float64{overall}, nil
	}
	rows, _ := pred.Dims()
	bounds, err := sequenceBounds(starts, rows)
	if err != nil {
		return nil, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	values := make([]float64, 0, 1+len(bounds))
	values = append(values, overall)
	for _, b := range bounds {
		predSeq := denseRows(pred, b[0], b[1])
		truthSeq := denseRows(truth, b[0], b[1])
		v, err := m.fn(predSeq, truthSeq)
		if err != nil {
			return nil, fmt.Errorf("metric %s, sequence at row %d: %w", m.Name, b[0], err)
		}
		values = append(values, v)
	}
	return values, nil
}

// sequenceBounds converts starting indices into [begin, end) row ranges.
// Starts must begin at 0, be strictly increasing, and fall inside [0, n).
func sequenceBounds(starts []int, n int) ([][2]int, error) {
	if len(starts) == 0 {
		return nil, ErrMissingStarts
	}
	if starts[0] != 0 {
		return nil, fmt.Errorf("starting indices must begin at 0, got %d", starts[0])
	}
	bounds := make([][2]int, 0, len(starts))
	for i, s := range starts {
		if s < 0 || s >= n {
			return nil, fmt.Errorf("starting index %d out of range for %d rows", s, n)
		}
		if i > 0 && s <= starts[i-1] {
			return nil, fmt.Errorf("starting indices must be strictly increasing, got %d after %d", s, starts[i-1])
		}
		end := n
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		bounds = append(bounds, [2]int{s, end})
	}
	return bounds, nil
}

func denseRows(m *mat.Dense, begin, end int) *mat.Dense {
	_, cols := m.Dims()
	return m.Slice(begin, end, 0, cols).(*mat.Dense)
}
