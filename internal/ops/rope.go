package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func RoPE(out, in, positions *tensor.Tensor, theta float32) error {
	return defaultContext.RoPE(out, in, positions, theta)
}

// RoPE rotates in [seqlen, n_head, d] by the I64 positions [seqlen]. Channel
// j is paired with j + d/2 and turned by positions[s] / theta^(2j/d). d must
// be even. out may alias in.
func (c *Context) RoPE(out, in, positions *tensor.Tensor, theta float32) error {
	const op = "rope"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("in", in)
		chk.notNil("positions", positions)
		chk.sameDevice(out, in, positions)
		chk.rank(in, 3)
		chk.rank(positions, 1)
		chk.sameShape(out, in)
		chk.dimEq(positions, 0, in, 0, "sequence length")
		chk.dtype(positions, tensor.I64)
		if chk.ok() && in.Dim(2)%2 != 0 {
			chk.failf("head dim must be even, got %d", in.Dim(2))
		}
		if chk.ok() && theta <= 0 {
			chk.failf("theta must be positive, got %v", theta)
		}
		chk.sameDType(out, in)
		chk.contiguous(out, in, positions)
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		pos := positions.Data().([]int64)
		seq, heads, dim := in.Dim(0), in.Dim(1), in.Dim(2)
		return byDType(op, dt,
			func() { cpu.RoPE(data[f32](out), data[f32](in), pos, seq, heads, dim, theta, c.workers) },
			func() { cpu.RoPE(data[f16](out), data[f16](in), pos, seq, heads, dim, theta, c.workers) },
			func() { cpu.RoPE(data[bf16](out), data[bf16](in), pos, seq, heads, dim, theta, c.workers) },
		)
	})
}
