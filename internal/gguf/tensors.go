package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// globalTensors live outside the blk.N. namespace.
var globalTensors = map[string]bool{
	tokenEmbd:            true,
	"output_norm.weight": true,
	"output.weight":      true,
}

func (f *GGUFFile) tensorInfo(name string) *TensorInfo {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Tensor decodes the named tensor into host memory.
func (f *GGUFFile) Tensor(name string) (*tensor.Tensor, error) {
	ti := f.tensorInfo(name)
	if ti == nil {
		return nil, fmt.Errorf("gguf: no tensor %s", name)
	}
	return ti.decode(name)
}

// BlockWeights returns the global tensors plus the tensors of one layer with
// the blk.<layer>. prefix stripped, so "blk.0.attn_q.weight" comes back as
// "attn_q.weight". Models with tied embeddings have no output.weight; the
// token embedding is returned under that name instead.
func (f *GGUFFile) BlockWeights(layer int) ([]*tensor.Tensor, error) {
	prefix := fmt.Sprintf("blk.%d.", layer)
	var out []*tensor.Tensor
	haveOutput := false
	for _, ti := range f.Tensors {
		name := ti.Name
		switch {
		case globalTensors[name]:
		case strings.HasPrefix(name, prefix):
			name = strings.TrimPrefix(name, prefix)
		default:
			continue
		}
		t, err := ti.decode(name)
		if err != nil {
			return nil, err
		}
		haveOutput = haveOutput || name == "output.weight"
		out = append(out, t)
	}
	if !haveOutput {
		if emb := f.tensorInfo(tokenEmbd); emb != nil {
			t, err := emb.decode("output.weight")
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (ti *TensorInfo) decode(name string) (*tensor.Tensor, error) {
	dt, ok := ti.Type.DType()
	if !ok {
		return nil, fmt.Errorf("gguf: tensor %s is %s; only F32, F16 and BF16 are supported", ti.Name, ti.Type)
	}
	n := int(ti.NumElements())
	if len(ti.Data) < n*dt.Size() {
		return nil, fmt.Errorf("gguf: tensor %s: %d bytes for %d elements", ti.Name, len(ti.Data), n)
	}
	var buf any
	switch dt {
	case tensor.F32:
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(ti.Data[4*i:]))
		}
		buf = vals
	case tensor.F16:
		vals := make([]float16.Float16, n)
		for i := range vals {
			vals[i] = float16.Frombits(binary.LittleEndian.Uint16(ti.Data[2*i:]))
		}
		buf = vals
	case tensor.BF16:
		vals := make([]tensor.BFloat16, n)
		for i := range vals {
			vals[i] = tensor.BFloat16(binary.LittleEndian.Uint16(ti.Data[2*i:]))
		}
		buf = vals
	}
	return tensor.Wrap(name, buf, ti.Shape()...)
}

// encode returns the little-endian bytes of t in row-major order.
func encode(t *tensor.Tensor) []byte {
	if !t.IsContiguous() {
		t = t.Clone()
	}
	switch buf := t.Data().(type) {
	case []float32:
		out := make([]byte, 4*len(buf))
		for i, v := range buf {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	case []float16.Float16:
		out := make([]byte, 2*len(buf))
		for i, v := range buf {
			binary.LittleEndian.PutUint16(out[2*i:], v.Bits())
		}
		return out
	case []tensor.BFloat16:
		out := make([]byte, 2*len(buf))
		for i, v := range buf {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
		}
		return out
	}
	return nil
}
