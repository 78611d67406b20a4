package optimizer

import "testing"

func TestAdaDeltaConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AdaDeltaConfig)
		wantErr bool
	}{
		{"defaults", func(c *AdaDeltaConfig) {}, false},
		{"negative lr", func(c *AdaDeltaConfig) { c.LearningRate = -1 }, true},
		{"rho out of range", func(c *AdaDeltaConfig) { c.Rho = 1.0 }, true},
		{"zero epsilon", func(c *AdaDeltaConfig) { c.Epsilon = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultAdaDeltaConfig()
			tt.mutate(&config)
			_, err := NewAdaDeltaOptimizer(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAdaDeltaOptimizer error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdaDeltaConvergence(t *testing.T) {
	opt, err := NewAdaDeltaOptimizer(DefaultAdaDeltaConfig())
	if err != nil {
		t.Fatalf("failed to create optimizer: %v", err)
	}
	// AdaDelta moves slowly at first, give it more steps
	runConvergence(t, opt, 500)
}

func TestAdaDeltaStateRoundTrip(t *testing.T) {
	runStateRoundTrip(t, func() Optimizer {
		opt, err := NewAdaDeltaOptimizer(DefaultAdaDeltaConfig())
		if err != nil {
			t.Fatalf("failed to create optimizer: %v", err)
		}
		return opt
	})
}
