package dataset

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-pose/npy"
)

// Load reads every path concurrently, preserving input order. Each array is
// an owned copy; the underlying files are closed before Load returns.
func Load(paths []string) ([]*Array, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("dataset: no input files")
	}
	arrs := make([]*Array, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			f, err := npy.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			shape := make([]int, len(f.Shape()))
			copy(shape, f.Shape())
			a, err := NewArray(shape, f.ReadAll())
			if err != nil {
				return fmt.Errorf("dataset: %s: %w", path, err)
			}
			arrs[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return arrs, nil
}

// LoadConcat loads every path, optionally squeezes each source, and returns
// the concatenation along with each source's starting offset within it.
func LoadConcat(paths []string, squeeze bool) (*Array, []int, error) {
	arrs, err := Load(paths)
	if err != nil {
		return nil, nil, err
	}
	if squeeze {
		for i, a := range arrs {
			arrs[i] = Squeeze(a)
		}
	}
	starts := StartingIndices(arrs)
	out, err := Concat(arrs)
	if err != nil {
		return nil, nil, err
	}
	return out, starts, nil
}

// OpenMapped opens a single file and returns an array backed by the file
// mapping when possible (float32 payloads), avoiding a copy for large
// sequence arrays. The returned close function must be kept alive until the
// array is no longer used; float64 payloads are converted eagerly and the
// close function is a no-op on the data.
func OpenMapped(path string) (*Array, func() error, error) {
	f, err := npy.Open(path)
	if err != nil {
		return nil, nil, err
	}
	shape := make([]int, len(f.Shape()))
	copy(shape, f.Shape())

	if view, err := f.Float32View(); err == nil {
		a := &Array{Shape: shape, Data: view}
		return a, f.Close, nil
	}

	data := f.ReadAll()
	if err := f.Close(); err != nil {
		return nil, nil, err
	}
	a, err := NewArray(shape, data)
	if err != nil {
		return nil, nil, err
	}
	return a, func() error { return nil }, nil
}
