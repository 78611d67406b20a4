package layers

import (
	"errors"
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Tanh
	Dropout
	Reshape
	LSTM
	HomoscedasticLoss
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Tanh:
		return "Tanh"
	case Dropout:
		return "Dropout"
	case Reshape:
		return "Reshape"
	case LSTM:
		return "LSTM"
	case HomoscedasticLoss:
		return "HomoscedasticLoss"
	default:
		return "Unknown"
	}
}

// ErrUnknownLayer indicates a layer name that does not resolve within a model.
var ErrUnknownLayer = errors.New("layers: unknown layer name")

// LayerSpec defines layer configuration for the execution engine
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder
// inputShape includes the batch dimension, e.g. [batchSize, features]
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
		compiled:   false,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false // Invalidate compilation
	return mb
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	// Input size will be computed during compilation
	layer := LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddTanh adds a Tanh activation to the model
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       Tanh,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddDropout adds a Dropout layer to the model
// rate: dropout probability (0.0 = no dropout, 1.0 = drop all)
func (mb *ModelBuilder) AddDropout(rate float32, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	}
	return mb.AddLayer(layer)
}

// AddReshape adds a Reshape layer mapping each sample to targetShape
// (excluding the batch dimension). The element count must be preserved.
func (mb *ModelBuilder) AddReshape(targetShape []int, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: Reshape,
		Name: name,
		Parameters: map[string]interface{}{
			"target_shape": targetShape,
		},
	}
	return mb.AddLayer(layer)
}

// AddLSTM adds an LSTM layer to the model
// hiddenSize: units per gate
// returnSequences: emit the full hidden sequence instead of the final step
// stateful: carry hidden/cell state across batches until explicitly reset
func (mb *ModelBuilder) AddLSTM(hiddenSize int, returnSequences, stateful bool, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: LSTM,
		Name: name,
		Parameters: map[string]interface{}{
			"hidden_size":      hiddenSize,
			"return_sequences": returnSequences,
			"stateful":         stateful,
		},
	}
	return mb.AddLayer(layer)
}

// AddHomoscedasticLoss adds a loss head with trainable log-variance weights.
// The head splits its input into position (first positionDims values) and
// orientation (the rest), consumes true labels through the auxiliary input,
// and outputs one loss value per sample.
func (mb *ModelBuilder) AddHomoscedasticLoss(positionDims int, initSPos, initSQuat float32, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: HomoscedasticLoss,
		Name: name,
		Parameters: map[string]interface{}{
			"position_dims": positionDims,
			"init_s_pos":    initSPos,
			"init_s_quat":   initSQuat,
		},
	}
	return mb.AddLayer(layer)
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) < 2 {
		return nil, fmt.Errorf("input shape must include batch and feature dimensions, got %v", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
		Compiled:   false,
	}

	copy(model.Layers, mb.layers)

	// Compute shapes and parameter information
	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount

		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case LSTM:
		return computeLSTMInfo(layer, inputShape)
	case Reshape:
		return computeReshapeInfo(layer, inputShape)
	case HomoscedasticLoss:
		return computeHomoscedasticInfo(layer, inputShape)
	case ReLU, Tanh, Dropout:
		// Activation layers don't change shape and have no parameters
		outputShape := make([]int, len(inputShape))
		copy(outputShape, inputShape)
		return outputShape, [][]int{}, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 {
		return nil, nil, 0, fmt.Errorf("Dense expects 2D input [batch, features], got %v", inputShape)
	}
	outputSize := IntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("Dense requires positive output_size")
	}
	inputSize := inputShape[1]
	layer.Parameters["input_size"] = inputSize

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if BoolParam(layer.Parameters, "use_bias", true) {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}
	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

func computeLSTMInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, fmt.Errorf("LSTM expects 3D input [batch, timesteps, features], got %v", inputShape)
	}
	hidden := IntParam(layer.Parameters, "hidden_size", 0)
	if hidden <= 0 {
		return nil, nil, 0, fmt.Errorf("LSTM requires positive hidden_size")
	}
	features := inputShape[2]
	layer.Parameters["input_size"] = features

	// Fused gate convention: input kernel, recurrent kernel, bias
	paramShapes := [][]int{
		{features, 4 * hidden},
		{hidden, 4 * hidden},
		{4 * hidden},
	}
	paramCount := int64(features*4*hidden + hidden*4*hidden + 4*hidden)

	var outputShape []int
	if BoolParam(layer.Parameters, "return_sequences", false) {
		outputShape = []int{inputShape[0], inputShape[1], hidden}
	} else {
		outputShape = []int{inputShape[0], hidden}
	}
	return outputShape, paramShapes, paramCount, nil
}

func computeReshapeInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	target := IntSliceParam(layer.Parameters, "target_shape")
	if len(target) == 0 {
		return nil, nil, 0, fmt.Errorf("Reshape requires target_shape")
	}
	inElems := 1
	for _, d := range inputShape[1:] {
		inElems *= d
	}
	outElems := 1
	for _, d := range target {
		if d <= 0 {
			return nil, nil, 0, fmt.Errorf("Reshape dimensions must be positive, got %v", target)
		}
		outElems *= d
	}
	if inElems != outElems {
		return nil, nil, 0, fmt.Errorf("Reshape cannot map %d elements to shape %v", inElems, target)
	}
	outputShape := append([]int{inputShape[0]}, target...)
	return outputShape, [][]int{}, 0, nil
}

func computeHomoscedasticInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 {
		return nil, nil, 0, fmt.Errorf("HomoscedasticLoss expects 2D input [batch, outputs], got %v", inputShape)
	}
	posDims := IntParam(layer.Parameters, "position_dims", 0)
	if posDims <= 0 || posDims >= inputShape[1] {
		return nil, nil, 0, fmt.Errorf("position_dims must split %d outputs into two non-empty groups", inputShape[1])
	}
	// One trainable log-variance per group
	paramShapes := [][]int{{1}, {1}}
	return []int{inputShape[0], 1}, paramShapes, 2, nil
}

// LayerByName returns the layer with the given name.
func (ms *ModelSpec) LayerByName(name string) (*LayerSpec, error) {
	for i := range ms.Layers {
		if ms.Layers[i].Name == name {
			return &ms.Layers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// HasLayer reports whether a layer with the given name exists.
func (ms *ModelSpec) HasLayer(name string) bool {
	_, err := ms.LayerByName(name)
	return err == nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := fmt.Sprintf("Model Summary:\n")
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %v\n", layer.InputShape)
		summary += fmt.Sprintf("  Output: %v\n", layer.OutputShape)
		summary += fmt.Sprintf("  Params: %d\n", layer.ParameterCount)

		if len(layer.Parameters) > 0 {
			summary += fmt.Sprintf("  Config: %v\n", layer.Parameters)
		}
		summary += "\n"
	}

	return summary
}

// IntParam reads an integer layer parameter, tolerating the float64 values
// JSON round-trips produce.
func IntParam(params map[string]interface{}, key string, defaultValue int) int {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return defaultValue
}

// BoolParam reads a boolean layer parameter.
func BoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return defaultValue
}

// FloatParam reads a float layer parameter, tolerating ints and float32.
func FloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return defaultValue
}

// IntSliceParam reads an []int layer parameter, tolerating the []interface{}
// form JSON round-trips produce.
func IntSliceParam(params map[string]interface{}, key string) []int {
	switch v := params[key].(type) {
	case []int:
		return v
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			default:
				return nil
			}
		}
		return out
	}
	return nil
}
