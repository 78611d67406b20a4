// Package config loads the hyperparameter-search configuration file: the
// run-identifier template, the sampling seed and one distribution per
// hyperparameter, materialized into a seeded search space.
package config

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-pose/search"
	"github.com/tsawler/go-pose/training"
)

var (
	// ErrNoDesc indicates a configuration without a run-identifier
	// template.
	ErrNoDesc = errors.New("config: desc must be specified")
	// ErrEmptySpace indicates a configuration without hyperparameters.
	ErrEmptySpace = errors.New("config: space must declare at least one hyperparameter")
	// ErrUnknownDistribution indicates a dist tag outside the closed set.
	ErrUnknownDistribution = errors.New("config: unknown distribution")
	// ErrBadBounds indicates distribution bounds that cannot be sampled.
	ErrBadBounds = errors.New("config: low must be less than high")
	// ErrNoChoices indicates a choice-style distribution with no values.
	ErrNoChoices = errors.New("config: at least one choice is required")
	// ErrUnknownSchedule indicates an lr_modifier schedule outside the
	// closed set.
	ErrUnknownSchedule = errors.New("config: unknown lr_modifier schedule")
)

// File is the on-disk search configuration.
//
//	desc: "lr{lr:.2e}-beta{beta:.1f}-drop{dropout:.2f}"
//	seed: 42
//	space:
//	  lr:          {dist: log-uniform, low: 1.0e-5, high: 1.0e-2}
//	  beta:        {dist: uniform, low: 100, high: 1000}
//	  dropout:     {dist: uniform, low: 0.0, high: 0.7}
//	  hidden:      {dist: int-range, low: 128, high: 2048}
//	  lr_modifier: {dist: lr-modifier, choices: [none, plateau, exponential]}
type File struct {
	Desc  string                  `yaml:"desc"`
	Seed  int64                   `yaml:"seed"`
	Space map[string]Distribution `yaml:"space"`
}

// Distribution describes how one hyperparameter is sampled. Dist selects
// the sampling rule; the other fields feed it.
type Distribution struct {
	Dist    string        `yaml:"dist"`
	Low     float64       `yaml:"low"`
	High    float64       `yaml:"high"`
	Choices []interface{} `yaml:"choices"`
	Value   interface{}   `yaml:"value"`
}

// Load reads and validates a configuration file. Distribution tags and
// bounds are checked here so a broken file fails before any search starts.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse validates raw configuration bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: failed to parse configuration: %v", err)
	}
	if f.Desc == "" {
		return nil, ErrNoDesc
	}
	if len(f.Space) == 0 {
		return nil, ErrEmptySpace
	}
	for name, dist := range f.Space {
		if err := dist.check(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return &f, nil
}

// BuildSpace materializes the distributions into a sampling space. All
// generators share one source seeded from the file, so a fixed seed
// reproduces the same draw sequence.
func (f *File) BuildSpace() (search.Space, error) {
	rng := rand.New(rand.NewSource(f.Seed))
	space := make(search.Space, len(f.Space))
	for name, dist := range f.Space {
		gen, err := dist.generator(rng)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		space[name] = gen
	}
	return space, nil
}

func (d Distribution) check() error {
	_, err := d.generator(rand.New(rand.NewSource(0)))
	return err
}

func (d Distribution) generator(rng *rand.Rand) (search.Generator, error) {
	switch d.Dist {
	case "uniform":
		if d.Low >= d.High {
			return nil, fmt.Errorf("%w: [%v, %v)", ErrBadBounds, d.Low, d.High)
		}
		return search.Uniform(rng, d.Low, d.High), nil
	case "log-uniform":
		if d.Low <= 0 || d.Low >= d.High {
			return nil, fmt.Errorf("%w: log-uniform needs 0 < low < high, got [%v, %v)", ErrBadBounds, d.Low, d.High)
		}
		return search.LogUniform(rng, d.Low, d.High), nil
	case "int-range":
		lo, hi := int(d.Low), int(d.High)
		if lo >= hi {
			return nil, fmt.Errorf("%w: [%d, %d)", ErrBadBounds, lo, hi)
		}
		return search.IntRange(rng, lo, hi), nil
	case "choice":
		if len(d.Choices) == 0 {
			return nil, ErrNoChoices
		}
		return search.Choice(rng, d.Choices...), nil
	case "fixed":
		if d.Value == nil {
			return nil, fmt.Errorf("config: fixed requires a value")
		}
		return search.Fixed(d.Value), nil
	case "lr-modifier":
		kinds, err := scheduleKinds(d.Choices)
		if err != nil {
			return nil, err
		}
		return lrModifierGenerator(rng, kinds), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDistribution, d.Dist)
}

// Schedule kinds the lr-modifier distribution can draw.
const (
	ScheduleNone        = "none"
	SchedulePlateau     = "plateau"
	ScheduleStep        = "step"
	ScheduleExponential = "exponential"
	ScheduleCosine      = "cosine"
)

func scheduleKinds(choices []interface{}) ([]string, error) {
	if len(choices) == 0 {
		return nil, ErrNoChoices
	}
	kinds := make([]string, len(choices))
	for i, c := range choices {
		s, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("%w: schedule names must be strings, got %T", ErrUnknownSchedule, c)
		}
		switch s {
		case ScheduleNone, SchedulePlateau, ScheduleStep, ScheduleExponential, ScheduleCosine:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, s)
		}
		kinds[i] = s
	}
	return kinds, nil
}

// lrModifierGenerator draws one schedule kind per iteration and wraps it as
// the modifier the driver invokes with the full assignment.
func lrModifierGenerator(rng *rand.Rand, kinds []string) search.Generator {
	return func() interface{} {
		return scheduleModifier(kinds[rng.Intn(len(kinds))])
	}
}

// scheduleModifier builds the callback for a drawn schedule kind. Schedule
// shape parameters may ride along in the same draw (lr_step, lr_gamma,
// lr_factor, lr_patience); absent keys fall back to the scheduler defaults.
func scheduleModifier(kind string) search.LRModifier {
	return func(a search.Assignment) (training.Callback, error) {
		var sched training.LRScheduler
		switch kind {
		case ScheduleNone:
			return nil, nil
		case SchedulePlateau:
			sched = training.NewReduceLROnPlateauScheduler(
				optFloat(a, "lr_factor", 0),
				optInt(a, "lr_patience", 0),
				0, "min")
		case ScheduleStep:
			sched = training.NewStepLRScheduler(
				optInt(a, "lr_step", 0),
				optFloat(a, "lr_gamma", 0))
		case ScheduleExponential:
			sched = training.NewExponentialLRScheduler(optFloat(a, "lr_gamma", 0))
		case ScheduleCosine:
			sched = training.NewCosineAnnealingLRScheduler(optInt(a, "lr_tmax", 0), 0)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, kind)
		}
		return training.NewLearningRateScheduler(sched, nil), nil
	}
}

func optFloat(a search.Assignment, key string, def float64) float64 {
	switch n := a[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func optInt(a search.Assignment, key string, def int) int {
	switch n := a[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}
