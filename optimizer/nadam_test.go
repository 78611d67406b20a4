package optimizer

import "testing"

func TestNadamConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NadamConfig)
		wantErr bool
	}{
		{"defaults", func(c *NadamConfig) {}, false},
		{"negative lr", func(c *NadamConfig) { c.LearningRate = -0.002 }, true},
		{"beta1 out of range", func(c *NadamConfig) { c.Beta1 = 1.0 }, true},
		{"beta2 out of range", func(c *NadamConfig) { c.Beta2 = 1.2 }, true},
		{"zero epsilon", func(c *NadamConfig) { c.Epsilon = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultNadamConfig()
			tt.mutate(&config)
			_, err := NewNadamOptimizer(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewNadamOptimizer error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNadamConvergence(t *testing.T) {
	opt, err := NewNadamOptimizer(NadamConfig{
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

func TestNadamStateRoundTrip(t *testing.T) {
	runStateRoundTrip(t, func() Optimizer {
		opt, err := NewNadamOptimizer(DefaultNadamConfig())
		if err != nil {
			t.Fatalf("failed to create optimizer: %v", err)
		}
		return opt
	})
}
