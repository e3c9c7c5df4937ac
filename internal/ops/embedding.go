package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func Embedding(out, index, weight *tensor.Tensor) error {
	return defaultContext.Embedding(out, index, weight)
}

// Embedding gathers rows of weight [vocab, d] selected by the I64 index [n]
// into out [n, d]. Every index must lie in [0, vocab).
func (c *Context) Embedding(out, index, weight *tensor.Tensor) error {
	const op = "embedding"
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("index", index)
		chk.notNil("weight", weight)
		chk.sameDevice(out, index, weight)
		chk.rank(index, 1)
		chk.rank(weight, 2)
		chk.rank(out, 2)
		chk.dtype(index, tensor.I64)
		chk.dimEq(out, 0, index, 0, "output rows/index length")
		chk.dimEq(out, 1, weight, 1, "embedding dim")
		chk.sameDType(out, weight)
		chk.contiguous(out, index, weight)
		if !chk.ok() {
			return
		}
		vocab := int64(weight.Dim(0))
		for i, id := range index.Data().([]int64) {
			if id < 0 || id >= vocab {
				chk.failf("index[%d] = %d outside vocabulary [0, %d)", i, id, vocab)
				return
			}
		}
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		ids := index.Data().([]int64)
		dim := weight.Dim(1)
		return byDType(op, dt,
			func() { cpu.Embedding(data[f32](out), data[f32](weight), ids, dim) },
			func() { cpu.Embedding(data[f16](out), data[f16](weight), ids, dim) },
			func() { cpu.Embedding(data[bf16](out), data[bf16](weight), ids, dim) },
		)
	})
}
