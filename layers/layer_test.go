package layers_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/tsawler/go-pose/layers"
)

func TestCompileRegressorModel(t *testing.T) {
	builder := layers.NewModelBuilder([]int{32, 2048})
	model, err := builder.
		AddDense(512, true, "fc1").
		AddReLU("relu1").
		AddDropout(0.5, "drop1").
		AddDense(7, true, "prediction").
		Compile()

	if err != nil {
		t.Fatalf("Failed to compile model: %v", err)
	}

	if !model.Compiled {
		t.Error("Expected model to be marked compiled")
	}

	expectedParams := int64(2048*512 + 512 + 512*7 + 7)
	if model.TotalParameters != expectedParams {
		t.Errorf("Expected %d parameters, got %d", expectedParams, model.TotalParameters)
	}

	if model.OutputShape[1] != 7 {
		t.Errorf("Expected output dimension 7, got %d", model.OutputShape[1])
	}
}

func TestCompileLSTMModel(t *testing.T) {
	tests := []struct {
		name            string
		returnSequences bool
		expectedOutput  []int
	}{
		{"last step only", false, []int{16, 64}},
		{"full sequence", true, []int{16, 20, 64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := layers.NewModelBuilder([]int{16, 20, 128})
			model, err := builder.
				AddLSTM(64, tt.returnSequences, false, "lstm1").
				Compile()
			if err != nil {
				t.Fatalf("Failed to compile model: %v", err)
			}

			if len(model.OutputShape) != len(tt.expectedOutput) {
				t.Fatalf("Expected output shape %v, got %v", tt.expectedOutput, model.OutputShape)
			}
			for i := range tt.expectedOutput {
				if model.OutputShape[i] != tt.expectedOutput[i] {
					t.Errorf("Expected output shape %v, got %v", tt.expectedOutput, model.OutputShape)
					break
				}
			}

			// input kernel + recurrent kernel + fused bias
			expectedParams := int64(128*4*64 + 64*4*64 + 4*64)
			if model.TotalParameters != expectedParams {
				t.Errorf("Expected %d parameters, got %d", expectedParams, model.TotalParameters)
			}
		})
	}
}

func TestCompileHomoscedasticHead(t *testing.T) {
	builder := layers.NewModelBuilder([]int{8, 100})
	model, err := builder.
		AddDense(7, true, "prediction").
		AddHomoscedasticLoss(3, 0.0, -3.0, "homoscedastic_loss").
		Compile()
	if err != nil {
		t.Fatalf("Failed to compile model: %v", err)
	}

	last := model.Layers[len(model.Layers)-1]
	if last.ParameterCount != 2 {
		t.Errorf("Expected 2 trainable log-variances, got %d", last.ParameterCount)
	}
	if model.OutputShape[1] != 1 {
		t.Errorf("Expected per-sample loss output, got shape %v", model.OutputShape)
	}
}

func TestReshapeValidation(t *testing.T) {
	tests := []struct {
		name    string
		target  []int
		wantErr bool
	}{
		{"valid split", []int{4, 32}, false},
		{"element count mismatch", []int{5, 32}, true},
		{"non-positive dimension", []int{0, 128}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := layers.NewModelBuilder([]int{8, 128}).
				AddReshape(tt.target, "reshape1").
				Compile()
			if tt.wantErr && err == nil {
				t.Error("Expected compile error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected compile error: %v", err)
			}
		})
	}
}

func TestLayerByName(t *testing.T) {
	model, err := layers.NewModelBuilder([]int{4, 10}).
		AddDense(8, true, "fc1").
		AddDense(7, true, "prediction").
		Compile()
	if err != nil {
		t.Fatalf("Failed to compile model: %v", err)
	}

	layer, err := model.LayerByName("prediction")
	if err != nil {
		t.Fatalf("Expected to resolve prediction layer: %v", err)
	}
	if layer.Type != layers.Dense {
		t.Errorf("Expected Dense layer, got %s", layer.Type)
	}

	_, err = model.LayerByName("does-not-exist")
	if !errors.Is(err, layers.ErrUnknownLayer) {
		t.Errorf("Expected ErrUnknownLayer, got %v", err)
	}

	if model.HasLayer("does-not-exist") {
		t.Error("Expected HasLayer to be false for unknown name")
	}
}

func TestCompileEmptyModel(t *testing.T) {
	_, err := layers.NewModelBuilder([]int{4, 10}).Compile()
	if err == nil {
		t.Error("Expected error compiling empty model")
	}
}

func TestSummaryContainsLayers(t *testing.T) {
	model, err := layers.NewModelBuilder([]int{4, 10}).
		AddDense(7, true, "prediction").
		Compile()
	if err != nil {
		t.Fatalf("Failed to compile model: %v", err)
	}

	summary := model.Summary()
	if !strings.Contains(summary, "prediction") {
		t.Error("Expected summary to name the prediction layer")
	}
	if !strings.Contains(summary, "Total Parameters: 77") {
		t.Errorf("Expected parameter total in summary, got:\n%s", summary)
	}
}

func TestDenseRejectsSequenceInput(t *testing.T) {
	_, err := layers.NewModelBuilder([]int{4, 10, 3}).
		AddDense(7, true, "prediction").
		Compile()
	if err == nil {
		t.Error("Expected error for Dense on 3D input")
	}
}

func TestLSTMRejectsFlatInput(t *testing.T) {
	_, err := layers.NewModelBuilder([]int{4, 10}).
		AddLSTM(32, false, false, "lstm1").
		Compile()
	if err == nil {
		t.Error("Expected error for LSTM on 2D input")
	}
}
