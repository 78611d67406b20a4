package training

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-pose/dataset"
)

// Batch is one training batch in matrix form, rows gathered from the
// source arrays and widened to float64.
type Batch struct {
	// Inputs holds the primary feature rows, one sample per row.
	Inputs *mat.Dense
	// AuxLabels holds true labels routed as a secondary model input, nil
	// when the loss takes labels through Target.
	AuxLabels *mat.Dense
	// Target holds the training target rows.
	Target *mat.Dense
	// Size is the number of samples in the batch.
	Size int
}

// DataLoader batches routed inputs and targets for one run. With shuffle
// enabled, sample order is re-randomized from the loader's own generator at
// every Reset; otherwise rows are served in dataset order, which sequence
// models rely on.
type DataLoader struct {
	inputs    dataset.Inputs
	target    *dataset.Array
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader validates that all inputs and the target agree on sample
// count and prepares an index ordering. Call Reset before the first epoch.
func NewDataLoader(inputs dataset.Inputs, target *dataset.Array, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	main := inputs.Main()
	if main == nil {
		return nil, fmt.Errorf("inputs missing %q", dataset.MainInput)
	}
	n := main.Rows()
	if n == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if aux := inputs.AuxLabels(); aux != nil && aux.Rows() != n {
		return nil, fmt.Errorf("auxiliary labels have %d rows, inputs have %d", aux.Rows(), n)
	}
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}
	if target.Rows() != n {
		return nil, fmt.Errorf("target has %d rows, inputs have %d", target.Rows(), n)
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		inputs:    inputs,
		target:    target,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Samples returns the total sample count.
func (dl *DataLoader) Samples() int { return len(dl.indices) }

// Reset rewinds the loader for a new epoch, reshuffling when enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch, or nil when the epoch is complete. The final
// batch of an epoch may be smaller than the configured batch size.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	idx := dl.indices[dl.position:end]
	dl.position = end

	batch := &Batch{
		Inputs: gatherRows(dl.inputs.Main(), idx),
		Target: gatherRows(dl.target, idx),
		Size:   len(idx),
	}
	if aux := dl.inputs.AuxLabels(); aux != nil {
		batch.AuxLabels = gatherRows(aux, idx)
	}
	return batch, nil
}

// HasNext reports whether the current epoch has batches remaining.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Iterator returns a channel that yields all remaining batches of the
// current epoch.
func (dl *DataLoader) Iterator() <-chan *Batch {
	ch := make(chan *Batch)
	go func() {
		defer close(ch)
		for {
			batch, err := dl.Next()
			if err != nil || batch == nil {
				return
			}
			ch <- batch
		}
	}()
	return ch
}

// gatherRows copies the selected rows of a into a float64 matrix, one
// sample per row with trailing axes flattened.
func gatherRows(a *dataset.Array, idx []int) *mat.Dense {
	d := a.RowDim()
	out := mat.NewDense(len(idx), d, nil)
	for r, i := range idx {
		row := a.Row(i)
		dst := out.RawRowView(r)
		for j, v := range row {
			dst[j] = float64(v)
		}
	}
	return out
}

// denseFromArray converts a whole array to a float64 matrix without
// reordering rows.
func denseFromArray(a *dataset.Array) *mat.Dense {
	rows, d := a.Rows(), a.RowDim()
	out := mat.NewDense(rows, d, nil)
	for i := 0; i < rows; i++ {
		row := a.Row(i)
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = float64(v)
		}
	}
	return out
}
