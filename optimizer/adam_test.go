package optimizer

import (
	"math"
	"testing"
)

func TestAdamConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AdamConfig)
		wantErr bool
	}{
		{"defaults", func(c *AdamConfig) {}, false},
		{"negative lr", func(c *AdamConfig) { c.LearningRate = -0.001 }, true},
		{"beta1 out of range", func(c *AdamConfig) { c.Beta1 = 1.0 }, true},
		{"beta2 out of range", func(c *AdamConfig) { c.Beta2 = -0.1 }, true},
		{"zero epsilon", func(c *AdamConfig) { c.Epsilon = 0 }, true},
		{"negative weight decay", func(c *AdamConfig) { c.WeightDecay = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultAdamConfig()
			tt.mutate(&config)
			_, err := NewAdamOptimizer(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAdamOptimizer error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdamFirstStepMagnitude(t *testing.T) {
	opt, err := NewAdamOptimizer(DefaultAdamConfig())
	if err != nil {
		t.Fatalf("failed to create optimizer: %v", err)
	}

	// With bias correction the first update has magnitude close to lr
	// regardless of gradient scale.
	params := quadParams(100.0)
	quadGrad(params)
	if err := opt.Step(params); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	moved := 100.0 - params[0].Data[0]
	if math.Abs(moved-opt.LearningRate) > 1e-6 {
		t.Errorf("first step moved %v, want about %v", moved, opt.LearningRate)
	}
}

func TestAdamConvergence(t *testing.T) {
	opt, err := NewAdamOptimizer(AdamConfig{
		LearningRate: 0.05,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	})
	if err != nil {
		t.Fatalf("failed to create optimizer: %v", err)
	}
	runConvergence(t, opt, 200)
}

func TestAdamStateRoundTrip(t *testing.T) {
	runStateRoundTrip(t, func() Optimizer {
		opt, err := NewAdamOptimizer(DefaultAdamConfig())
		if err != nil {
			t.Fatalf("failed to create optimizer: %v", err)
		}
		return opt
	})
}
