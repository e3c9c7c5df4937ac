package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func RMSNorm(out, in, weight *tensor.Tensor, eps float32) error {
	return defaultContext.RMSNorm(out, in, weight, eps)
}

// RMSNorm normalizes in [..., d] over its last dimension and scales by
// weight [d]: out = in / sqrt(mean(in²) + eps) * weight. Leading dimensions
// are folded into rows. out may alias in.
func (c *Context) RMSNorm(out, in, weight *tensor.Tensor, eps float32) error {
	const op = "rms_norm"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("in", in)
		chk.notNil("weight", weight)
		chk.sameDevice(out, in, weight)
		if chk.ok() && in.NDim() < 1 {
			chk.failf("%s must have at least one dimension, got shape %v", in.Name(), in.Shape())
		}
		chk.rank(weight, 1)
		chk.sameShape(out, in)
		chk.dimEq(weight, 0, in, -1, "weight length")
		if chk.ok() && eps < 0 {
			chk.failf("eps must be non-negative, got %v", eps)
		}
		chk.sameDType(out, in, weight)
		chk.contiguous(out, in, weight)
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		cols := in.Dim(-1)
		rows := 0
		if cols > 0 {
			rows = in.NumElements() / cols
		}
		return byDType(op, dt,
			func() { cpu.RMSNorm(data[f32](out), data[f32](in), data[f32](weight), rows, cols, eps, c.workers) },
			func() { cpu.RMSNorm(data[f16](out), data[f16](in), data[f16](weight), rows, cols, eps, c.workers) },
			func() { cpu.RMSNorm(data[bf16](out), data[bf16](in), data[bf16](weight), rows, cols, eps, c.workers) },
		)
	})
}
