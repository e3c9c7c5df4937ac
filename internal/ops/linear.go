package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func Linear(out, in, weight, bias *tensor.Tensor) error {
	return defaultContext.Linear(out, in, weight, bias)
}

// Linear computes out[b, o] = in[b, i] · weight[o, i]ᵀ + bias[o]. bias may be
// nil. Dot products accumulate in float32 whatever the storage type. out must
// not share storage with in, weight or bias.
func (c *Context) Linear(out, in, weight, bias *tensor.Tensor) error {
	const op = "linear"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("in", in)
		chk.notNil("weight", weight)
		operands := []*tensor.Tensor{out, in, weight}
		if bias != nil {
			operands = append(operands, bias)
		}
		chk.sameDevice(operands...)
		chk.rank(out, 2)
		chk.rank(in, 2)
		chk.rank(weight, 2)
		chk.dimEq(in, 1, weight, 1, "input features")
		chk.dimEq(out, 0, in, 0, "batch")
		chk.dimEq(out, 1, weight, 0, "output features")
		if bias != nil {
			chk.rank(bias, 1)
			chk.dimEq(bias, 0, weight, 0, "bias length")
		}
		chk.sameDType(operands...)
		chk.contiguous(operands...)
		chk.disjoint(out, operands[1:]...)
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		batch, inF, outF := in.Dim(0), in.Dim(1), weight.Dim(0)
		return byDType(op, dt,
			func() { cpu.Linear(data[f32](out), data[f32](in), data[f32](weight), data[f32](bias), batch, inF, outF, c.workers) },
			func() { cpu.Linear(data[f16](out), data[f16](in), data[f16](weight), data[f16](bias), batch, inF, outF, c.workers) },
			func() { cpu.Linear(data[bf16](out), data[bf16](in), data[bf16](weight), data[bf16](bias), batch, inF, outF, c.workers) },
		)
	})
}
