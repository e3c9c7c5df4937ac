package cpu

import "math"

var negInf = float32(math.Inf(-1))

// Softmax normalizes x in place. The row maximum is subtracted before
// exponentiating; -Inf entries come out as exactly 0.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	if math.IsInf(float64(max), -1) {
		// fully masked row
		for i := range x {
			x[i] = 0
		}
		return
	}
	sum := float32(0.0)
	for i := range x {
		x[i] = float32(math.Exp(float64(x[i] - max)))
		sum += x[i]
	}
	if sum > 0 {
		invSum := float32(1.0) / sum
		for i := range x {
			x[i] *= invSum
		}
	}
}
