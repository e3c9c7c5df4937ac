package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func SwiGLU(out, gate, up *tensor.Tensor) error {
	return defaultContext.SwiGLU(out, gate, up)
}

// SwiGLU computes out = up * sigmoid(gate) elementwise over same-shaped tensors.
func (c *Context) SwiGLU(out, gate, up *tensor.Tensor) error {
	const op = "swiglu"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("gate", gate)
		chk.notNil("up", up)
		chk.sameDevice(out, gate, up)
		chk.sameShape(out, gate)
		chk.sameShape(out, up)
		chk.sameDType(out, gate, up)
		chk.contiguous(out, gate, up)
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		return byDType(op, dt,
			func() { cpu.SwiGLU(data[f32](out), data[f32](gate), data[f32](up)) },
			func() { cpu.SwiGLU(data[f16](out), data[f16](gate), data[f16](up)) },
			func() { cpu.SwiGLU(data[bf16](out), data[bf16](gate), data[bf16](up)) },
		)
	})
}
