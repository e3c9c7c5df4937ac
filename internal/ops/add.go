package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func Add(out, a, b *tensor.Tensor) error {
	return defaultContext.Add(out, a, b)
}

// Add computes out = a + b over same-shaped tensors. It carries residual
// connections; out may alias a or b.
func (c *Context) Add(out, a, b *tensor.Tensor) error {
	const op = "add"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("a", a)
		chk.notNil("b", b)
		chk.sameDevice(out, a, b)
		chk.sameShape(out, a)
		chk.sameShape(out, b)
		chk.sameDType(out, a, b)
		chk.contiguous(out, a, b)
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		return byDType(op, dt,
			func() { cpu.Add(data[f32](out), data[f32](a), data[f32](b)) },
			func() { cpu.Add(data[f16](out), data[f16](a), data[f16](b)) },
			func() { cpu.Add(data[bf16](out), data[bf16](a), data[bf16](b)) },
		)
	})
}
