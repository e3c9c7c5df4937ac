package cpu

import "math"

// RoPE rotates every head vector of in [seq, heads, dim] by its position.
// Feature j is paired with j+dim/2 and rotated by pos / theta^(2j/dim).
// out may alias in: each pair is read before it is written.
func RoPE[E Element](out, in []E, positions []int64, seq, heads, dim int, theta float32, workers int) {
	half := dim / 2
	invFreq := make([]float64, half)
	for j := range invFreq {
		invFreq[j] = 1.0 / math.Pow(float64(theta), 2.0*float64(j)/float64(dim))
	}
	parallelRange(seq, workers, func(start, end int) {
		for s := start; s < end; s++ {
			pos := float64(positions[s])
			for h := 0; h < heads; h++ {
				base := (s*heads + h) * dim
				src := in[base : base+dim]
				dst := out[base : base+dim]
				for j := 0; j < half; j++ {
					angle := pos * invFreq[j]
					sin, cos := math.Sincos(angle)
					a := load(src[j])
					b := load(src[j+half])
					c, sn := float32(cos), float32(sin)
					dst[j] = store[E](a*c - b*sn)
					dst[j+half] = store[E](b*c + a*sn)
				}
			}
		}
	})
}
