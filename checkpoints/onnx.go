package checkpoints

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX wire constants for the subset of the format used here.
const (
	onnxIRVersion    = 8
	onnxOpsetVersion = 17
	onnxFloatType    = 1 // TensorProto.DataType FLOAT
)

// ExportONNX writes the checkpoint's generator weights as an ONNX model
// whose graph carries each parameter as a named initializer. The encoding is
// done directly with protowire against the ONNX field layout, so no
// generated protobuf code is needed.
func ExportONNX(ckpt *Checkpoint, path string) error {
	if ckpt == nil {
		return errors.New("cannot export a nil checkpoint")
	}
	if len(ckpt.GeneratorWeights) == 0 {
		return errors.New("checkpoint has no generator weights to export")
	}

	graph := encodeGraph("palette_generator", ckpt.GeneratorWeights)

	var model []byte
	// ModelProto.ir_version = 1
	model = protowire.AppendTag(model, 1, protowire.VarintType)
	model = protowire.AppendVarint(model, onnxIRVersion)
	// ModelProto.producer_name = 2
	model = protowire.AppendTag(model, 2, protowire.BytesType)
	model = protowire.AppendString(model, "go-recolor")
	// ModelProto.producer_version = 3
	model = protowire.AppendTag(model, 3, protowire.BytesType)
	model = protowire.AppendString(model, ckpt.Metadata.Version)
	// ModelProto.graph = 7
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)
	// ModelProto.opset_import = 8
	model = protowire.AppendTag(model, 8, protowire.BytesType)
	model = protowire.AppendBytes(model, encodeOpset(onnxOpsetVersion))

	if err := os.WriteFile(path, model, 0644); err != nil {
		return errors.Wrapf(err, "failed to write ONNX model to %s", path)
	}

	return nil
}

func encodeOpset(version int64) []byte {
	var b []byte
	// OperatorSetIdProto.version = 2
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))
	return b
}

func encodeGraph(name string, weights []WeightTensor) []byte {
	var g []byte
	// GraphProto.name = 2
	g = protowire.AppendTag(g, 2, protowire.BytesType)
	g = protowire.AppendString(g, name)
	// GraphProto.initializer = 5, one per weight
	for _, w := range weights {
		g = protowire.AppendTag(g, 5, protowire.BytesType)
		g = protowire.AppendBytes(g, encodeTensor(w))
	}
	return g
}

func encodeTensor(w WeightTensor) []byte {
	var t []byte
	// TensorProto.dims = 1
	for _, d := range w.Shape {
		t = protowire.AppendTag(t, 1, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(d))
	}
	// TensorProto.data_type = 2
	t = protowire.AppendTag(t, 2, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxFloatType)
	// TensorProto.float_data = 4 (packed)
	var packed []byte
	for _, v := range w.Data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	t = protowire.AppendTag(t, 4, protowire.BytesType)
	t = protowire.AppendBytes(t, packed)
	// TensorProto.name = 8
	t = protowire.AppendTag(t, 8, protowire.BytesType)
	t = protowire.AppendString(t, w.Name)
	return t
}
