package cpu

// Linear computes out = in * weight^T + bias for in [batch, inF] and
// weight [outF, inF]. bias may be nil. Each output element is accumulated in
// float32 and narrowed once.
func Linear[E Element](out, in, weight, bias []E, batch, inF, outF, workers int) {
	parallelRange(batch, workers, func(rowStart, rowEnd int) {
		x := make([]float32, inF)
		for row := rowStart; row < rowEnd; row++ {
			for i, v := range in[row*inF : (row+1)*inF] {
				x[i] = load(v)
			}
			for o := 0; o < outF; o++ {
				w := weight[o*inF : (o+1)*inF]
				var sum float32
				for i, xv := range x {
					sum += xv * load(w[i])
				}
				if bias != nil {
					sum += load(bias[o])
				}
				out[row*outF+o] = store[E](sum)
			}
		}
	})
}
