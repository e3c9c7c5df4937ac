// Package cpu holds the host kernels. Every kernel is generic over the storage
// element type; values are widened to float32 on load and narrowed on store,
// so accumulation always happens in float32 (or wider) regardless of storage.
package cpu

import (
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// Element is the closed set of storage types the kernels dispatch on.
type Element interface {
	float32 | float16.Float16 | tensor.BFloat16
}

func load[E Element](v E) float32 {
	switch x := any(v).(type) {
	case float32:
		return x
	case float16.Float16:
		return x.Float32()
	case tensor.BFloat16:
		return x.Float32()
	}
	return 0
}

func store[E Element](f float32) E {
	var out E
	switch p := any(&out).(type) {
	case *float32:
		*p = f
	case *float16.Float16:
		*p = float16.Fromfloat32(f)
	case *tensor.BFloat16:
		*p = tensor.BFloat16FromFloat32(f)
	}
	return out
}

// parallelRange splits [0, n) into at most workers contiguous chunks and runs
// fn on each. Chunks never overlap, so kernels that write only inside their
// chunk need no synchronization. It returns once every chunk is done.
func parallelRange(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if workers <= 1 || n == 1 {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}
