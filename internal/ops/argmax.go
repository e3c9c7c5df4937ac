package ops

import (
	"math"

	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func ArgMax(maxIdx, maxVal, vals *tensor.Tensor) error {
	return defaultContext.ArgMax(maxIdx, maxVal, vals)
}

// ArgMax writes the index of the largest element of the 1D vals into the I64
// scalar maxIdx and that element into maxVal, which shares vals' dtype.
// Ties go to the lowest index; NaNs never win.
func (c *Context) ArgMax(maxIdx, maxVal, vals *tensor.Tensor) error {
	const op = "argmax"
	validate := func(chk *checker) {
		chk.notNil("max_idx", maxIdx)
		chk.notNil("max_val", maxVal)
		chk.notNil("vals", vals)
		chk.sameDevice(maxIdx, maxVal, vals)
		chk.rank(vals, 1)
		if chk.ok() && vals.Dim(0) == 0 {
			chk.failf("vals must not be empty")
		}
		chk.numel(maxIdx, 1)
		chk.numel(maxVal, 1)
		chk.dtype(maxIdx, tensor.I64)
		chk.sameDType(maxVal, vals)
		chk.contiguous(vals)
	}
	return c.run(op, maxVal, validate, func(dt tensor.DType) error {
		return byDType(op, dt,
			func() { argMax[f32](maxIdx, maxVal, vals) },
			func() { argMax[f16](maxIdx, maxVal, vals) },
			func() { argMax[bf16](maxIdx, maxVal, vals) },
		)
	})
}

func argMax[E cpu.Element](maxIdx, maxVal, vals *tensor.Tensor) {
	src := data[E](vals)
	idx, val := cpu.ArgMax(src)
	if math.IsNaN(float64(val)) {
		metrics.RecordNumericalInstability(vals.Name(), len(src), 0)
	}
	maxIdx.Data().([]int64)[0] = int64(idx)
	data[E](maxVal)[0] = cpu.Store[E](val)
}
