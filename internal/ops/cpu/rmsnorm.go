package cpu

import "math"

// RMSNorm normalizes each of rows rows of width cols:
// out = in / sqrt(mean(in^2) + eps) * weight. The sum of squares is
// accumulated in float64.
func RMSNorm[E Element](out, in, weight []E, rows, cols int, eps float32, workers int) {
	if cols == 0 {
		return
	}
	w := make([]float32, cols)
	for j := range w {
		w[j] = load(weight[j])
	}
	parallelRange(rows, workers, func(rowStart, rowEnd int) {
		for row := rowStart; row < rowEnd; row++ {
			src := in[row*cols : (row+1)*cols]
			dst := out[row*cols : (row+1)*cols]
			var sumSq float64
			for _, v := range src {
				f := float64(load(v))
				sumSq += f * f
			}
			meanSq := float32(sumSq / float64(cols))
			scale := float32(1.0) / float32(math.Sqrt(float64(meanSq+eps)))
			for j, v := range src {
				dst[j] = store[E](load(v) * scale * w[j])
			}
		}
	})
}
