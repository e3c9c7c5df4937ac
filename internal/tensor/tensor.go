package tensor

import (
	"fmt"
	"reflect"

	"github.com/x448/float16"
)

// Tensor is a shaped view over a typed host buffer. The backing slice is one of
// []float32, []float16.Float16, []BFloat16 or []int64, matching dtype. Views created
// by Transpose share the buffer and carry non row-major strides.
type Tensor struct {
	name    string
	data    any
	shape   []int
	strides []int
	dtype   DType
	device  Device
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New allocates a zeroed contiguous tensor on the host.
func New(name string, dtype DType, shape ...int) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension in shape %v", name, shape)
		}
	}
	n := numel(shape)
	var data any
	switch dtype {
	case F32:
		data = make([]float32, n)
	case F16:
		data = make([]float16.Float16, n)
	case BF16:
		data = make([]BFloat16, n)
	case I64:
		data = make([]int64, n)
	default:
		return nil, fmt.Errorf("tensor %q: cannot allocate %s", name, dtype)
	}
	return &Tensor{
		name:    name,
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		dtype:   dtype,
		device:  HostDevice,
	}, nil
}

// FromFloat32 allocates a tensor of the given floating dtype and narrows vals into it.
func FromFloat32(name string, dtype DType, vals []float32, shape ...int) (*Tensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("tensor %q: %s is not a floating dtype", name, dtype)
	}
	if n := numel(shape); n != len(vals) {
		return nil, fmt.Errorf("tensor %q: %d values for shape %v (%d elements)", name, len(vals), shape, n)
	}
	t, err := New(name, dtype, shape...)
	if err != nil {
		return nil, err
	}
	switch buf := t.data.(type) {
	case []float32:
		copy(buf, vals)
	case []float16.Float16:
		for i, v := range vals {
			buf[i] = float16.Fromfloat32(v)
		}
	case []BFloat16:
		for i, v := range vals {
			buf[i] = BFloat16FromFloat32(v)
		}
	}
	return t, nil
}

func FromInt64(name string, vals []int64, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(vals) {
		return nil, fmt.Errorf("tensor %q: %d values for shape %v (%d elements)", name, len(vals), shape, n)
	}
	return &Tensor{
		name:    name,
		data:    append([]int64(nil), vals...),
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		dtype:   I64,
		device:  HostDevice,
	}, nil
}

// Wrap borrows an existing typed slice as a contiguous tensor without copying.
func Wrap(name string, data any, shape ...int) (*Tensor, error) {
	var dtype DType
	var n int
	switch buf := data.(type) {
	case []float32:
		dtype, n = F32, len(buf)
	case []float16.Float16:
		dtype, n = F16, len(buf)
	case []BFloat16:
		dtype, n = BF16, len(buf)
	case []int64:
		dtype, n = I64, len(buf)
	default:
		return nil, fmt.Errorf("tensor %q: unsupported backing type %T", name, data)
	}
	if numel(shape) != n {
		return nil, fmt.Errorf("tensor %q: buffer of %d elements for shape %v", name, n, shape)
	}
	return &Tensor{
		name:    name,
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		dtype:   dtype,
		device:  HostDevice,
	}, nil
}

func (t *Tensor) Name() string { return t.name }
func (t *Tensor) DType() DType { return t.dtype }
func (t *Tensor) Device() Device { return t.device }
func (t *Tensor) Shape() []int { return t.shape }
func (t *Tensor) Strides() []int { return t.strides }
func (t *Tensor) NDim() int { return len(t.shape) }
func (t *Tensor) Data() any { return t.data }
func (t *Tensor) NumElements() int { return numel(t.shape) }

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// SetDevice relabels the tensor's device. Storage stays on the host; only the
// CPU path exists, so this is how callers exercise device dispatch.
func (t *Tensor) SetDevice(d Device) {
	t.device = d
}

func (t *Tensor) IsContiguous() bool {
	acc := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if t.shape[i] != 1 && t.strides[i] != acc {
			return false
		}
		acc *= t.shape[i]
	}
	return true
}

// SharesStorage reports whether the backing buffers of t and u overlap.
// Views of one tensor always share storage, whatever their shapes.
func (t *Tensor) SharesStorage(u *Tensor) bool {
	tLo, tHi := t.storageSpan()
	uLo, uHi := u.storageSpan()
	return tLo < uHi && uLo < tHi
}

func (t *Tensor) storageSpan() (lo, hi uintptr) {
	v := reflect.ValueOf(t.data)
	if v.Len() == 0 {
		return 0, 0
	}
	lo = v.Pointer()
	return lo, lo + uintptr(v.Len())*v.Type().Elem().Size()
}

// Transpose returns a view with dimensions a and b swapped. The view shares
// storage and is generally not contiguous.
func (t *Tensor) Transpose(a, b int) (*Tensor, error) {
	if a < 0 || b < 0 || a >= len(t.shape) || b >= len(t.shape) {
		return nil, fmt.Errorf("tensor %q: transpose(%d, %d) out of range for rank %d", t.name, a, b, len(t.shape))
	}
	v := &Tensor{
		name:    t.name,
		data:    t.data,
		shape:   append([]int(nil), t.shape...),
		strides: append([]int(nil), t.strides...),
		dtype:   t.dtype,
		device:  t.device,
	}
	v.shape[a], v.shape[b] = v.shape[b], v.shape[a]
	v.strides[a], v.strides[b] = v.strides[b], v.strides[a]
	return v, nil
}

// Reshape returns a view of a contiguous tensor with a new shape holding the
// same number of elements.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if !t.IsContiguous() {
		return nil, fmt.Errorf("tensor %q: reshape of a non-contiguous view", t.name)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension in shape %v", t.name, shape)
		}
	}
	if numel(shape) != t.NumElements() {
		return nil, fmt.Errorf("tensor %q: cannot reshape %v to %v", t.name, t.shape, shape)
	}
	return &Tensor{
		name:    t.name,
		data:    t.data,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		dtype:   t.dtype,
		device:  t.device,
	}, nil
}

// Clone copies the tensor into fresh contiguous storage.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		name:    t.name,
		shape:   append([]int(nil), t.shape...),
		strides: rowMajorStrides(t.shape),
		dtype:   t.dtype,
		device:  t.device,
	}
	idx := t.offsets()
	switch buf := t.data.(type) {
	case []float32:
		c.data = gather(buf, idx)
	case []float16.Float16:
		c.data = gather(buf, idx)
	case []BFloat16:
		c.data = gather(buf, idx)
	case []int64:
		c.data = gather(buf, idx)
	}
	return c
}

// Float32s widens the tensor to float32 in logical row-major order.
func (t *Tensor) Float32s() []float32 {
	idx := t.offsets()
	out := make([]float32, len(idx))
	switch buf := t.data.(type) {
	case []float32:
		for i, off := range idx {
			out[i] = buf[off]
		}
	case []float16.Float16:
		for i, off := range idx {
			out[i] = buf[off].Float32()
		}
	case []BFloat16:
		for i, off := range idx {
			out[i] = buf[off].Float32()
		}
	case []int64:
		for i, off := range idx {
			out[i] = float32(buf[off])
		}
	}
	return out
}

// Int64s returns the elements of an I64 tensor in logical order, nil otherwise.
func (t *Tensor) Int64s() []int64 {
	buf, ok := t.data.([]int64)
	if !ok {
		return nil
	}
	return gather(buf, t.offsets())
}

// offsets lists the storage offset of every logical element in row-major order.
func (t *Tensor) offsets() []int {
	n := t.NumElements()
	out := make([]int, n)
	if n == 0 {
		return out
	}
	pos := make([]int, len(t.shape))
	for i := 0; i < n; i++ {
		off := 0
		for d, p := range pos {
			off += p * t.strides[d]
		}
		out[i] = off
		for d := len(pos) - 1; d >= 0; d-- {
			pos[d]++
			if pos[d] < t.shape[d] {
				break
			}
			pos[d] = 0
		}
	}
	return out
}

func gather[E any](buf []E, idx []int) []E {
	out := make([]E, len(idx))
	for i, off := range idx {
		out[i] = buf[off]
	}
	return out
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v:%s@%s", t.name, t.shape, t.dtype, t.device)
}
