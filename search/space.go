package search

import (
	"math"
	"math/rand"
	"sort"
)

// Generator produces one hyperparameter value per call.
type Generator func() interface{}

// Space maps hyperparameter names to their sampling generators.
type Space map[string]Generator

// Assignment is one concrete draw from a Space. It is built once per search
// iteration and not mutated afterwards.
type Assignment map[string]interface{}

// Draw samples one value per generator. Generators fire in sorted key order
// so that a space built over one seeded rand.Rand reproduces the same
// sequence of assignments on every run.
func Draw(space Space) Assignment {
	keys := space.Keys()
	a := make(Assignment, len(space))
	for _, k := range keys {
		a[k] = space[k]()
	}
	return a
}

// Keys returns the space's parameter names in sorted order.
func (s Space) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Uniform draws float64 values uniformly from [lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64) Generator {
	return func() interface{} {
		return lo + rng.Float64()*(hi-lo)
	}
}

// LogUniform draws float64 values whose logarithms are uniform over
// [log(lo), log(hi)). Suits scale parameters such as learning rates; both
// bounds must be positive.
func LogUniform(rng *rand.Rand, lo, hi float64) Generator {
	logLo := math.Log(lo)
	logHi := math.Log(hi)
	return func() interface{} {
		return math.Exp(logLo + rng.Float64()*(logHi-logLo))
	}
}

// Choice draws uniformly from a fixed set of values.
func Choice(rng *rand.Rand, values ...interface{}) Generator {
	return func() interface{} {
		return values[rng.Intn(len(values))]
	}
}

// IntRange draws integers uniformly from [lo, hi).
func IntRange(rng *rand.Rand, lo, hi int) Generator {
	return func() interface{} {
		return lo + rng.Intn(hi-lo)
	}
}

// Fixed always returns v.
func Fixed(v interface{}) Generator {
	return func() interface{} { return v }
}
