package engine

import "github.com/23skdu/quarrel-kernels/internal/tensor"

// arena allocates the activations of one forward pass in a single dtype and
// keeps the first error. Every method returns nil once an error is recorded.
type arena struct {
	dtype tensor.DType
	err   error
}

func newArena(dtype tensor.DType) *arena {
	return &arena{dtype: dtype}
}

func (a *arena) alloc(name string, shape ...int) *tensor.Tensor {
	if a.err != nil {
		return nil
	}
	t, err := tensor.New(name, a.dtype, shape...)
	if err != nil {
		a.err = err
		return nil
	}
	return t
}

// index allocates an I64 tensor holding vals.
func (a *arena) index(name string, vals ...int64) *tensor.Tensor {
	if a.err != nil {
		return nil
	}
	t, err := tensor.FromInt64(name, vals, len(vals))
	if err != nil {
		a.err = err
		return nil
	}
	return t
}

// view reshapes t without copying.
func (a *arena) view(t *tensor.Tensor, shape ...int) *tensor.Tensor {
	if a.err != nil {
		return nil
	}
	v, err := t.Reshape(shape...)
	if err != nil {
		a.err = err
		return nil
	}
	return v
}
