package optimizer

import (
	"fmt"

	"github.com/tsawler/go-pose/checkpoints"
	"github.com/tsawler/go-pose/engine"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single state buffer into a checkpoint tensor
func extractBufferState(buffer []float64, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}

	data := make([]float64, len(buffer))
	copy(data, buffer)

	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(data)},
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpoint tensor data back into a state buffer
func restoreBufferState(buffer []float64, data []float64, name string) error {
	if buffer == nil {
		return fmt.Errorf("%s buffer is nil", name)
	}

	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}

	copy(buffer, data)
	return nil
}

// allocStateBuffers creates one zeroed state buffer per parameter
func allocStateBuffers(params []*engine.Parameter) [][]float64 {
	buffers := make([][]float64, len(params))
	for i, p := range params {
		buffers[i] = make([]float64, len(p.Data))
	}
	return buffers
}

// checkParamCount verifies the parameter list is consistent with the
// allocated state buffers
func checkParamCount(buffers [][]float64, params []*engine.Parameter) error {
	if len(buffers) != len(params) {
		return fmt.Errorf("expected %d parameters, got %d", len(buffers), len(params))
	}
	for i, p := range params {
		if len(buffers[i]) != len(p.Data) {
			return fmt.Errorf("parameter %d size changed: state %d, parameter %d",
				i, len(buffers[i]), len(p.Data))
		}
	}
	return nil
}

// restoreBuffersByType restores all tensors of one state type into the
// matching indexed buffers, allocating them when absent
func restoreBuffersByType(buffers *[][]float64, state *OptimizerState, stateType string) error {
	for _, tensor := range state.StateData {
		if tensor.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		for idx >= len(*buffers) {
			*buffers = append(*buffers, nil)
		}
		if (*buffers)[idx] == nil {
			(*buffers)[idx] = make([]float64, len(tensor.Data))
		}
		if err := restoreBufferState((*buffers)[idx], tensor.Data, tensor.Name); err != nil {
			return err
		}
	}
	return nil
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := params[key].(float64); ok {
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}
