package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoints are a protobuf wire-format message compressed with
// zstd. Field numbers below are fixed; new fields may be added but existing
// numbers must never be reused.
//
//	Checkpoint:      1 spec_json, 2 weights (repeated), 3 training_state,
//	                 4 optimizer_state, 5 metadata_json
//	WeightTensor:    1 name, 2 shape (packed varint), 3 data (packed fixed64),
//	                 4 layer, 5 type
//	TrainingState:   1 epoch, 2 step, 3 learning_rate, 4 best_loss,
//	                 5 total_steps
//	OptimizerState:  1 type, 2 parameters_json, 3 state_data (repeated)
//	OptimizerTensor: 1 name, 2 shape (packed varint), 3 data (packed fixed64),
//	                 4 state_type
const (
	fieldSpecJSON       = 1
	fieldWeights        = 2
	fieldTrainingState  = 3
	fieldOptimizerState = 4
	fieldMetadataJSON   = 5
)

const (
	fieldTensorName  = 1
	fieldTensorShape = 2
	fieldTensorData  = 3
	fieldTensorAux   = 4
	fieldTensorKind  = 5
)

const (
	fieldStateEpoch      = 1
	fieldStateStep       = 2
	fieldStateLR         = 3
	fieldStateBestLoss   = 4
	fieldStateTotalSteps = 5
)

const (
	fieldOptType       = 1
	fieldOptParamsJSON = 2
	fieldOptTensor     = 3
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// saveBinary writes the checkpoint as a zstd-compressed wire message.
func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	stampMetadata(checkpoint)

	payload, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	compressed := zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/4))

	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadBinary reads a zstd-compressed wire message checkpoint.
func (cs *CheckpointSaver) loadBinary(path string) (*Checkpoint, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	payload, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress checkpoint: %v", err)
	}
	checkpoint, err := decodeCheckpoint(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return checkpoint, nil
}

func encodeCheckpoint(checkpoint *Checkpoint) ([]byte, error) {
	var b []byte

	if checkpoint.ModelSpec != nil {
		specJSON, err := json.Marshal(checkpoint.ModelSpec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal model spec: %v", err)
		}
		b = protowire.AppendTag(b, fieldSpecJSON, protowire.BytesType)
		b = protowire.AppendBytes(b, specJSON)
	}

	for i := range checkpoint.Weights {
		w := &checkpoint.Weights[i]
		msg := encodeTensor(w.Name, w.Shape, w.Data, w.Layer, w.Type)
		b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	b = protowire.AppendTag(b, fieldTrainingState, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeTrainingState(&checkpoint.TrainingState))

	if checkpoint.OptimizerState != nil {
		msg, err := encodeOptimizerState(checkpoint.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldOptimizerState, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	metaJSON, err := json.Marshal(&checkpoint.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %v", err)
	}
	b = protowire.AppendTag(b, fieldMetadataJSON, protowire.BytesType)
	b = protowire.AppendBytes(b, metaJSON)

	return b, nil
}

func encodeTensor(name string, shape []int, data []float64, aux, kind string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var shapeBuf []byte
	for _, d := range shape {
		shapeBuf = protowire.AppendVarint(shapeBuf, uint64(d))
	}
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shapeBuf)

	dataBuf := make([]byte, 0, 8*len(data))
	for _, v := range data {
		dataBuf = protowire.AppendFixed64(dataBuf, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, dataBuf)

	if aux != "" {
		b = protowire.AppendTag(b, fieldTensorAux, protowire.BytesType)
		b = protowire.AppendString(b, aux)
	}
	if kind != "" {
		b = protowire.AppendTag(b, fieldTensorKind, protowire.BytesType)
		b = protowire.AppendString(b, kind)
	}
	return b
}

func encodeTrainingState(ts *TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStateEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Epoch))
	b = protowire.AppendTag(b, fieldStateStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Step))
	b = protowire.AppendTag(b, fieldStateLR, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.LearningRate))
	b = protowire.AppendTag(b, fieldStateBestLoss, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.BestLoss))
	b = protowire.AppendTag(b, fieldStateTotalSteps, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.TotalSteps))
	return b
}

func encodeOptimizerState(st *OptimizerState) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldOptType, protowire.BytesType)
	b = protowire.AppendString(b, st.Type)

	paramsJSON, err := json.Marshal(st.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal optimizer parameters: %v", err)
	}
	b = protowire.AppendTag(b, fieldOptParamsJSON, protowire.BytesType)
	b = protowire.AppendBytes(b, paramsJSON)

	for i := range st.StateData {
		t := &st.StateData[i]
		msg := encodeTensor(t.Name, t.Shape, t.Data, t.StateType, "")
		b = protowire.AppendTag(b, fieldOptTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b, nil
}

func decodeCheckpoint(b []byte) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("corrupt tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected wire type %d for field %d", typ, num)
		}
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("corrupt field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldSpecJSON:
			if err := json.Unmarshal(val, &checkpoint.ModelSpec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal model spec: %v", err)
			}
		case fieldWeights:
			name, shape, data, aux, kind, err := decodeTensor(val)
			if err != nil {
				return nil, err
			}
			checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
				Name: name, Shape: shape, Data: data, Layer: aux, Type: kind,
			})
		case fieldTrainingState:
			ts, err := decodeTrainingState(val)
			if err != nil {
				return nil, err
			}
			checkpoint.TrainingState = *ts
		case fieldOptimizerState:
			optState, err := decodeOptimizerState(val)
			if err != nil {
				return nil, err
			}
			checkpoint.OptimizerState = optState
		case fieldMetadataJSON:
			if err := json.Unmarshal(val, &checkpoint.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %v", err)
			}
		}
	}
	return checkpoint, nil
}

func decodeTensor(b []byte) (name string, shape []int, data []float64, aux, kind string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			err = fmt.Errorf("corrupt tensor tag: %v", protowire.ParseError(n))
			return
		}
		b = b[n:]
		if typ != protowire.BytesType {
			err = fmt.Errorf("unexpected wire type %d in tensor field %d", typ, num)
			return
		}
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			err = fmt.Errorf("corrupt tensor field %d: %v", num, protowire.ParseError(n))
			return
		}
		b = b[n:]

		switch num {
		case fieldTensorName:
			name = string(val)
		case fieldTensorShape:
			for len(val) > 0 {
				v, m := protowire.ConsumeVarint(val)
				if m < 0 {
					err = fmt.Errorf("corrupt tensor shape: %v", protowire.ParseError(m))
					return
				}
				shape = append(shape, int(v))
				val = val[m:]
			}
		case fieldTensorData:
			if len(val)%8 != 0 {
				err = fmt.Errorf("tensor data length %d not a multiple of 8", len(val))
				return
			}
			data = make([]float64, 0, len(val)/8)
			for len(val) > 0 {
				v, m := protowire.ConsumeFixed64(val)
				if m < 0 {
					err = fmt.Errorf("corrupt tensor data: %v", protowire.ParseError(m))
					return
				}
				data = append(data, math.Float64frombits(v))
				val = val[m:]
			}
		case fieldTensorAux:
			aux = string(val)
		case fieldTensorKind:
			kind = string(val)
		}
	}
	return
}

func decodeTrainingState(b []byte) (*TrainingState, error) {
	ts := &TrainingState{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("corrupt training state tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("corrupt training state varint: %v", protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldStateEpoch:
				ts.Epoch = int(v)
			case fieldStateStep:
				ts.Step = int(v)
			case fieldStateTotalSteps:
				ts.TotalSteps = int(v)
			}
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return nil, fmt.Errorf("corrupt training state fixed64: %v", protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldStateLR:
				ts.LearningRate = math.Float64frombits(v)
			case fieldStateBestLoss:
				ts.BestLoss = math.Float64frombits(v)
			}
		default:
			return nil, fmt.Errorf("unexpected wire type %d in training state", typ)
		}
	}
	return ts, nil
}

func decodeOptimizerState(b []byte) (*OptimizerState, error) {
	state := &OptimizerState{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("corrupt optimizer state tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected wire type %d in optimizer state field %d", typ, num)
		}
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("corrupt optimizer state field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldOptType:
			state.Type = string(val)
		case fieldOptParamsJSON:
			if err := json.Unmarshal(val, &state.Parameters); err != nil {
				return nil, fmt.Errorf("failed to unmarshal optimizer parameters: %v", err)
			}
		case fieldOptTensor:
			name, shape, data, aux, _, err := decodeTensor(val)
			if err != nil {
				return nil, err
			}
			state.StateData = append(state.StateData, OptimizerTensor{
				Name: name, Shape: shape, Data: data, StateType: aux,
			})
		}
	}
	return state, nil
}
