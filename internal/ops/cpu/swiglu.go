package cpu

import "math"

// SwiGLU writes up * sigmoid(gate) elementwise.
func SwiGLU[E Element](out, gate, up []E) {
	for i := range out {
		g := load(gate[i])
		sigmoid := float32(1.0) / (float32(1.0) + float32(math.Exp(float64(-g))))
		out[i] = store[E](load(up[i]) * sigmoid)
	}
}
