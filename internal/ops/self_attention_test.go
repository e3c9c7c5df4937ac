package ops

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

var floatTypes = []tensor.DType{tensor.F32, tensor.F16, tensor.BF16}

func mustFloat(t testing.TB, name string, dt tensor.DType, vals []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromFloat32(name, dt, vals, shape...)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return x
}

func mustInt(t testing.TB, name string, vals []int64, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromInt64(name, vals, shape...)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return x
}

func filled(t testing.TB, name string, dt tensor.DType, v float32, shape ...int) *tensor.Tensor {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = v
	}
	return mustFloat(t, name, dt, vals, shape...)
}

func assertUntouched(t *testing.T, out *tensor.Tensor, sentinel float32) {
	t.Helper()
	for i, v := range out.Float32s() {
		if v != sentinel {
			t.Fatalf("output index %d changed to %v after a failed call", i, v)
		}
	}
}

func TestSelfAttentionScenarios(t *testing.T) {
	for _, dt := range floatTypes {
		t.Run(dt.String(), func(t *testing.T) {
			out := filled(t, "out", dt, 0, 1, 1, 1)
			q := mustFloat(t, "q", dt, []float32{2}, 1, 1, 1)
			k := mustFloat(t, "k", dt, []float32{3}, 1, 1, 1)
			v := mustFloat(t, "v", dt, []float32{5}, 1, 1, 1)
			if err := SelfAttention(out, q, k, v, 1.0); err != nil {
				t.Fatalf("SelfAttention failed: %v", err)
			}
			if got := out.Float32s()[0]; got != 5 {
				t.Errorf("single token: expected 5, got %v", got)
			}

			out2 := filled(t, "out", dt, 0, 2, 1, 1)
			q2 := mustFloat(t, "q", dt, []float32{1, 1}, 2, 1, 1)
			k2 := mustFloat(t, "k", dt, []float32{1, 1}, 2, 1, 1)
			v2 := mustFloat(t, "v", dt, []float32{10, 20}, 2, 1, 1)
			if err := SelfAttention(out2, q2, k2, v2, 1.0); err != nil {
				t.Fatalf("SelfAttention failed: %v", err)
			}
			got := out2.Float32s()
			if got[0] != 10 || got[1] != 15 {
				t.Errorf("two positions: expected [10 15], got %v", got)
			}
		})
	}
}

func TestSelfAttentionGroupedHeads(t *testing.T) {
	// 4 query heads over 2 kv heads; kv head 0 holds 1, kv head 1 holds 7
	out := filled(t, "out", tensor.F32, 0, 2, 4, 1)
	q := filled(t, "q", tensor.F32, 1, 2, 4, 1)
	k := filled(t, "k", tensor.F32, 1, 2, 2, 1)
	v := mustFloat(t, "v", tensor.F32, []float32{1, 7, 1, 7}, 2, 2, 1)
	if err := SelfAttention(out, q, k, v, 1.0); err != nil {
		t.Fatalf("SelfAttention failed: %v", err)
	}
	want := []float32{1, 1, 7, 7, 1, 1, 7, 7}
	for i, g := range out.Float32s() {
		if g != want[i] {
			t.Errorf("index %d: got %v, want %v", i, g, want[i])
		}
	}
}

func TestSelfAttentionPreconditions(t *testing.T) {
	const sentinel = 42
	dt := tensor.F32
	q := filled(t, "q", dt, 1, 2, 4, 3)
	k := filled(t, "k", dt, 1, 2, 2, 3)
	v := filled(t, "v", dt, 1, 2, 2, 5)

	transposed, _ := filled(t, "q", dt, 1, 3, 4, 2).Transpose(0, 2)
	onGPU := filled(t, "k", dt, 1, 2, 2, 3)
	onGPU.SetDevice(tensor.Device{Type: tensor.Nvidia})

	tests := []struct {
		name    string
		out     *tensor.Tensor
		q, k, v *tensor.Tensor
	}{
		{"nil query", filled(t, "out", dt, sentinel, 2, 4, 5), nil, k, v},
		{"query rank", filled(t, "out", dt, sentinel, 2, 4, 5), filled(t, "q", dt, 1, 8, 3), k, v},
		{"kv length", filled(t, "out", dt, sentinel, 2, 4, 5), q, k, filled(t, "v", dt, 1, 3, 2, 5)},
		{"kv heads", filled(t, "out", dt, sentinel, 2, 4, 5), q, k, filled(t, "v", dt, 1, 2, 1, 5)},
		{"head dim", filled(t, "out", dt, sentinel, 2, 4, 5), q, filled(t, "k", dt, 1, 2, 2, 4), v},
		{"heads not a multiple", filled(t, "out", dt, sentinel, 2, 4, 5), q, filled(t, "k", dt, 1, 2, 3, 3), filled(t, "v", dt, 1, 2, 3, 5)},
		{"output length", filled(t, "out", dt, sentinel, 3, 4, 5), q, k, v},
		{"output dv", filled(t, "out", dt, sentinel, 2, 4, 3), q, k, v},
		{"dtype mismatch", filled(t, "out", dt, sentinel, 2, 4, 5), q, filled(t, "k", tensor.F16, 1, 2, 2, 3), v},
		{"device mismatch", filled(t, "out", dt, sentinel, 2, 4, 5), q, onGPU, v},
		{"non-contiguous", filled(t, "out", dt, sentinel, 2, 4, 5), transposed, k, v},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SelfAttention(tt.out, tt.q, tt.k, tt.v, 1.0)
			if !errors.Is(err, ErrPrecondition) {
				t.Fatalf("expected ErrPrecondition, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Op != "self_attention" {
				t.Errorf("expected *ValidationError for self_attention, got %#v", err)
			}
			assertUntouched(t, tt.out, sentinel)
		})
	}
}

func TestSelfAttentionUnsupportedDType(t *testing.T) {
	ones := []int64{1, 1}
	out := mustInt(t, "out", []int64{9, 9}, 2, 1, 1)
	err := SelfAttention(out, mustInt(t, "q", ones, 2, 1, 1), mustInt(t, "k", ones, 2, 1, 1), mustInt(t, "v", ones, 2, 1, 1), 1.0)
	if !errors.Is(err, ErrUnsupportedDType) {
		t.Fatalf("expected ErrUnsupportedDType, got %v", err)
	}
	if got := out.Int64s(); got[0] != 9 || got[1] != 9 {
		t.Errorf("output written despite dtype failure: %v", got)
	}
}

func TestSelfAttentionAcceleratorStub(t *testing.T) {
	gpu := tensor.Device{Type: tensor.Nvidia, ID: 0}
	out := filled(t, "out", tensor.BF16, 3, 1, 1, 1)
	q := filled(t, "q", tensor.BF16, 1, 1, 1, 1)
	k := filled(t, "k", tensor.BF16, 1, 1, 1, 1)
	v := filled(t, "v", tensor.BF16, 1, 1, 1, 1)
	for _, x := range []*tensor.Tensor{out, q, k, v} {
		x.SetDevice(gpu)
	}
	err := SelfAttention(out, q, k, v, 1.0)
	if !errors.Is(err, ErrUnsupportedDevice) {
		t.Fatalf("expected ErrUnsupportedDevice, got %v", err)
	}
	assertUntouched(t, out, 3)
}

func TestSelfAttentionThreadCountsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rand32 := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = rng.Float32()*2 - 1
		}
		return out
	}
	seq, heads, kvHeads, d := 7, 6, 2, 8
	q := mustFloat(t, "q", tensor.F32, rand32(seq*heads*d), seq, heads, d)
	k := mustFloat(t, "k", tensor.F32, rand32(seq*kvHeads*d), seq, kvHeads, d)
	v := mustFloat(t, "v", tensor.F32, rand32(seq*kvHeads*d), seq, kvHeads, d)

	scale := float32(1 / math.Sqrt(float64(d)))
	single := filled(t, "out", tensor.F32, 0, seq, heads, d)
	many := filled(t, "out", tensor.F32, 0, seq, heads, d)
	if err := NewContext(Options{Threads: 1}).SelfAttention(single, q, k, v, scale); err != nil {
		t.Fatal(err)
	}
	if err := NewContext(Options{Threads: 5}).SelfAttention(many, q, k, v, scale); err != nil {
		t.Fatal(err)
	}
	a, b := single.Float32s(), many.Float32s()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("index %d: 1 thread %v, 5 threads %v", i, a[i], b[i])
		}
	}
}

func TestNewContextDefaultsWorkers(t *testing.T) {
	if NewContext(Options{}).Workers() < 1 {
		t.Error("default context should have at least one worker")
	}
	if NewContext(Options{Threads: 3}).Workers() != 3 {
		t.Error("explicit thread count should be kept")
	}
}
