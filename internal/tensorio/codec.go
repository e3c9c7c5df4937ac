package tensorio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// encode serializes the tensor's elements in logical row-major order as
// little-endian words of dtype.Size() bytes each.
func encode(t *tensor.Tensor) []byte {
	if !t.IsContiguous() {
		t = t.Clone()
	}
	le := binary.LittleEndian
	switch buf := t.Data().(type) {
	case []float32:
		out := make([]byte, 4*len(buf))
		for i, v := range buf {
			le.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	case []float16.Float16:
		out := make([]byte, 2*len(buf))
		for i, v := range buf {
			le.PutUint16(out[2*i:], v.Bits())
		}
		return out
	case []tensor.BFloat16:
		out := make([]byte, 2*len(buf))
		for i, v := range buf {
			le.PutUint16(out[2*i:], v.Bits())
		}
		return out
	case []int64:
		out := make([]byte, 8*len(buf))
		for i, v := range buf {
			le.PutUint64(out[8*i:], uint64(v))
		}
		return out
	}
	return nil
}

func decode(name string, dtype tensor.DType, shape []int, raw []byte) (*tensor.Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension in shape %v", name, shape)
		}
		n *= d
	}
	if size := dtype.Size(); size == 0 || len(raw) != n*size {
		return nil, fmt.Errorf("tensor %q: %d bytes of %s for shape %v", name, len(raw), dtype, shape)
	}

	le := binary.LittleEndian
	var data any
	switch dtype {
	case tensor.F32:
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = math.Float32frombits(le.Uint32(raw[4*i:]))
		}
		data = buf
	case tensor.F16:
		buf := make([]float16.Float16, n)
		for i := range buf {
			buf[i] = float16.Frombits(le.Uint16(raw[2*i:]))
		}
		data = buf
	case tensor.BF16:
		buf := make([]tensor.BFloat16, n)
		for i := range buf {
			buf[i] = tensor.BFloat16(le.Uint16(raw[2*i:]))
		}
		data = buf
	case tensor.I64:
		buf := make([]int64, n)
		for i := range buf {
			buf[i] = int64(le.Uint64(raw[8*i:]))
		}
		data = buf
	}
	return tensor.Wrap(name, data, shape...)
}
