package cpu

import "math"

// ArgMax returns the index and value of the largest element. Ties resolve to
// the lowest index and NaNs are skipped. An empty or all-NaN input yields
// index 0 and NaN.
func ArgMax[E Element](vals []E) (int, float32) {
	idx := -1
	var best float32
	for i, v := range vals {
		f := load(v)
		if math.IsNaN(float64(f)) {
			continue
		}
		if idx < 0 || f > best {
			idx, best = i, f
		}
	}
	if idx < 0 {
		return 0, float32(math.NaN())
	}
	return idx, best
}

// Store narrows f to the element type. The ops layer uses it to write
// scalar results such as ArgMax's value.
func Store[E Element](f float32) E {
	return store[E](f)
}
