package cpu

// Add writes a + b elementwise into out. out may alias either input.
func Add[E Element](out, a, b []E) {
	for i := range out {
		out[i] = store[E](load(a[i]) + load(b[i]))
	}
}
