package ops

import (
	"fmt"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// checker records the first failed precondition for op. Every method is a
// no-op once a failure is recorded, so later shape checks never index into
// a tensor whose rank was already rejected.
type checker struct {
	op  string
	err error
}

func (c *checker) failf(format string, args ...interface{}) {
	if c.err == nil {
		c.err = &ValidationError{Op: c.op, Kind: ErrPrecondition, Msg: fmt.Sprintf(format, args...)}
	}
}

func (c *checker) ok() bool { return c.err == nil }

func (c *checker) notNil(name string, t *tensor.Tensor) {
	if c.ok() && t == nil {
		c.failf("%s tensor is nil", name)
	}
}

func (c *checker) rank(t *tensor.Tensor, n int) {
	if c.ok() && t.NDim() != n {
		c.failf("%s must be %dD, got shape %v", t.Name(), n, t.Shape())
	}
}

func (c *checker) numel(t *tensor.Tensor, n int) {
	if c.ok() && t.NumElements() != n {
		c.failf("%s must hold %d element(s), got shape %v", t.Name(), n, t.Shape())
	}
}

func (c *checker) dimEq(a *tensor.Tensor, ai int, b *tensor.Tensor, bi int, what string) {
	if c.ok() && a.Dim(ai) != b.Dim(bi) {
		c.failf("%s mismatch: %s%v vs %s%v", what, a.Name(), a.Shape(), b.Name(), b.Shape())
	}
}

func (c *checker) sameShape(a, b *tensor.Tensor) {
	if !c.ok() {
		return
	}
	if a.NDim() != b.NDim() {
		c.failf("%s%v and %s%v differ in shape", a.Name(), a.Shape(), b.Name(), b.Shape())
		return
	}
	for i := range a.Shape() {
		if a.Dim(i) != b.Dim(i) {
			c.failf("%s%v and %s%v differ in shape", a.Name(), a.Shape(), b.Name(), b.Shape())
			return
		}
	}
}

func (c *checker) sameDType(ts ...*tensor.Tensor) {
	for _, t := range ts[1:] {
		if c.ok() && t.DType() != ts[0].DType() {
			c.failf("%s is %s but %s is %s", t.Name(), t.DType(), ts[0].Name(), ts[0].DType())
		}
	}
}

func (c *checker) dtype(t *tensor.Tensor, want tensor.DType) {
	if c.ok() && t.DType() != want {
		c.failf("%s must be %s, got %s", t.Name(), want, t.DType())
	}
}

func (c *checker) sameDevice(ts ...*tensor.Tensor) {
	for _, t := range ts[1:] {
		if c.ok() && t.Device() != ts[0].Device() {
			c.failf("%s is on %s but %s is on %s", t.Name(), t.Device(), ts[0].Name(), ts[0].Device())
		}
	}
}

func (c *checker) contiguous(ts ...*tensor.Tensor) {
	for _, t := range ts {
		if c.ok() && !t.IsContiguous() {
			c.failf("%s must be contiguous", t.Name())
		}
	}
}

// disjoint fails if out shares storage with any of the read-only inputs.
func (c *checker) disjoint(out *tensor.Tensor, inputs ...*tensor.Tensor) {
	for _, t := range inputs {
		if c.ok() && out.SharesStorage(t) {
			c.failf("%s must not share storage with %s", out.Name(), t.Name())
		}
	}
}
