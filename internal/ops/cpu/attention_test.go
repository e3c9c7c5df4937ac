package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

func toElems[E Element](vals []float32) []E {
	out := make([]E, len(vals))
	for i, v := range vals {
		out[i] = store[E](v)
	}
	return out
}

func toFloats[E Element](vals []E) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = load(v)
	}
	return out
}

func randomVals(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

// referenceAttention is a float64 re-derivation used to check the kernel.
func referenceAttention(q, k, v []float32, s AttentionShape, scale float64) []float32 {
	out := make([]float32, s.SeqLen*s.Heads*s.ValueDim)
	group := s.Heads / s.KVHeads
	for pos := 0; pos < s.SeqLen; pos++ {
		for h := 0; h < s.Heads; h++ {
			kvh := h / group
			visible := min(pos+1, s.KVLen)
			scores := make([]float64, visible)
			maxScore := math.Inf(-1)
			for j := 0; j < visible; j++ {
				var dot float64
				for d := 0; d < s.HeadDim; d++ {
					dot += float64(q[(pos*s.Heads+h)*s.HeadDim+d]) * float64(k[(j*s.KVHeads+kvh)*s.HeadDim+d])
				}
				scores[j] = dot * scale
				maxScore = math.Max(maxScore, scores[j])
			}
			var sum float64
			for j := range scores {
				scores[j] = math.Exp(scores[j] - maxScore)
				sum += scores[j]
			}
			for d := 0; d < s.ValueDim; d++ {
				var acc float64
				for j := range scores {
					acc += scores[j] / sum * float64(v[(j*s.KVHeads+kvh)*s.ValueDim+d])
				}
				out[(pos*s.Heads+h)*s.ValueDim+d] = float32(acc)
			}
		}
	}
	return out
}

func TestSelfAttention_SingleToken(t *testing.T) {
	s := AttentionShape{SeqLen: 1, KVLen: 1, Heads: 1, KVHeads: 1, HeadDim: 1, ValueDim: 1}
	out := make([]float32, 1)
	SelfAttention(out, []float32{2}, []float32{3}, []float32{5}, s, 1.0, 1)
	if out[0] != 5 {
		t.Errorf("expected 5.0, got %v", out[0])
	}

	scores := make([]float32, 1)
	scoreRow(scores, []float32{2}, []float32{3}, s, 1.0, 0, 0)
	if scores[0] != 6 {
		t.Errorf("expected raw score 6.0, got %v", scores[0])
	}
}

func TestSelfAttention_TwoPositionCausal(t *testing.T) {
	s := AttentionShape{SeqLen: 2, KVLen: 2, Heads: 1, KVHeads: 1, HeadDim: 1, ValueDim: 1}

	t.Run("f32", func(t *testing.T) {
		out := make([]float32, 2)
		SelfAttention(out, []float32{1, 1}, []float32{1, 1}, []float32{10, 20}, s, 1.0, 1)
		if out[0] != 10 || out[1] != 15 {
			t.Errorf("expected [10 15], got %v", out)
		}
	})
	t.Run("f16", func(t *testing.T) {
		out := make([]float16.Float16, 2)
		SelfAttention(out, toElems[float16.Float16]([]float32{1, 1}), toElems[float16.Float16]([]float32{1, 1}),
			toElems[float16.Float16]([]float32{10, 20}), s, 1.0, 1)
		got := toFloats(out)
		if got[0] != 10 || got[1] != 15 {
			t.Errorf("expected [10 15], got %v", got)
		}
	})
	t.Run("bf16", func(t *testing.T) {
		out := make([]tensor.BFloat16, 2)
		SelfAttention(out, toElems[tensor.BFloat16]([]float32{1, 1}), toElems[tensor.BFloat16]([]float32{1, 1}),
			toElems[tensor.BFloat16]([]float32{10, 20}), s, 1.0, 1)
		got := toFloats(out)
		if got[0] != 10 || got[1] != 15 {
			t.Errorf("expected [10 15], got %v", got)
		}
	})
}

func TestSelfAttention_GroupMapping(t *testing.T) {
	s := AttentionShape{SeqLen: 2, KVLen: 2, Heads: 4, KVHeads: 2, HeadDim: 1, ValueDim: 1}
	if s.GroupSize() != 2 {
		t.Fatalf("expected group size 2, got %d", s.GroupSize())
	}
	want := []int{0, 0, 1, 1}
	for h, kvh := range want {
		if got := s.KVHead(h); got != kvh {
			t.Errorf("head %d: got kv head %d, want %d", h, got, kvh)
		}
	}

	q := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	k := []float32{1, 1, 1, 1}
	// kv head 0 always holds 1, kv head 1 always holds 7
	v := []float32{1, 7, 1, 7}
	out := make([]float32, s.SeqLen*s.Heads)
	SelfAttention(out, q, k, v, s, 1.0, 1)

	for pos := 0; pos < s.SeqLen; pos++ {
		head1 := out[pos*s.Heads+1]
		head2 := out[pos*s.Heads+2]
		if head1 != 1 {
			t.Errorf("pos %d head 1: expected kv head 0 value 1, got %v", pos, head1)
		}
		if head2 != 7 {
			t.Errorf("pos %d head 2: expected kv head 1 value 7, got %v", pos, head2)
		}
	}
}

func TestSelfAttention_OutputShape(t *testing.T) {
	shapes := []AttentionShape{
		{SeqLen: 1, KVLen: 1, Heads: 1, KVHeads: 1, HeadDim: 4, ValueDim: 4},
		{SeqLen: 3, KVLen: 3, Heads: 8, KVHeads: 2, HeadDim: 4, ValueDim: 6},
		{SeqLen: 5, KVLen: 5, Heads: 6, KVHeads: 3, HeadDim: 2, ValueDim: 3},
	}
	rng := rand.New(rand.NewSource(7))
	for _, s := range shapes {
		n := s.SeqLen * s.Heads * s.ValueDim
		out := make([]float32, n+4)
		for i := range out {
			out[i] = float32(math.NaN())
		}
		q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
		k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
		v := randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim)
		SelfAttention(out[:n], q, k, v, s, 0.5, 3)
		for i := 0; i < n; i++ {
			if math.IsNaN(float64(out[i])) {
				t.Errorf("shape %+v: element %d not written", s, i)
				break
			}
		}
		for i := n; i < len(out); i++ {
			if !math.IsNaN(float64(out[i])) {
				t.Errorf("shape %+v: wrote past output bounds at %d", s, i)
			}
		}
	}
}

func TestSelfAttention_Causality(t *testing.T) {
	s := AttentionShape{SeqLen: 6, KVLen: 6, Heads: 4, KVHeads: 2, HeadDim: 8, ValueDim: 5}
	rng := rand.New(rand.NewSource(42))
	q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
	k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
	v := randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim)

	base := make([]float32, s.SeqLen*s.Heads*s.ValueDim)
	SelfAttention(base, q, k, v, s, 0.35, 2)

	for pos := 0; pos < s.SeqLen; pos++ {
		k2 := append([]float32(nil), k...)
		v2 := append([]float32(nil), v...)
		for j := pos + 1; j < s.KVLen; j++ {
			for i := j * s.KVHeads * s.HeadDim; i < (j+1)*s.KVHeads*s.HeadDim; i++ {
				k2[i] = rng.Float32()*100 - 50
			}
			for i := j * s.KVHeads * s.ValueDim; i < (j+1)*s.KVHeads*s.ValueDim; i++ {
				v2[i] = rng.Float32()*100 - 50
			}
		}
		got := make([]float32, len(base))
		SelfAttention(got, q, k2, v2, s, 0.35, 2)
		for i := 0; i < (pos+1)*s.Heads*s.ValueDim; i++ {
			if got[i] != base[i] {
				t.Fatalf("pos %d: row changed after mutating future keys/values (index %d: %v != %v)", pos, i, got[i], base[i])
			}
		}
	}
}

func TestSelfAttention_SoftmaxNormalization(t *testing.T) {
	s := AttentionShape{SeqLen: 7, KVLen: 7, Heads: 4, KVHeads: 1, HeadDim: 16, ValueDim: 16}
	rng := rand.New(rand.NewSource(3))
	q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
	k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
	scale := float32(1 / math.Sqrt(float64(s.HeadDim)))

	scores := make([]float32, s.KVLen)
	for pos := 0; pos < s.SeqLen; pos++ {
		for h := 0; h < s.Heads; h++ {
			scoreRow(scores, q, k, s, scale, pos, h)
			for j := pos + 1; j < s.KVLen; j++ {
				if !math.IsInf(float64(scores[j]), -1) {
					t.Errorf("pos %d head %d: key %d not masked (%v)", pos, h, j, scores[j])
				}
			}
			Softmax(scores)
			var sum float64
			for j, w := range scores {
				if j > pos && w != 0 {
					t.Errorf("pos %d head %d: masked weight %d = %v, want exactly 0", pos, h, j, w)
				}
				sum += float64(w)
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Errorf("pos %d head %d: weights sum to %v", pos, h, sum)
			}
		}
	}
}

func TestSelfAttention_GQADegeneracy(t *testing.T) {
	s := AttentionShape{SeqLen: 5, KVLen: 5, Heads: 3, KVHeads: 3, HeadDim: 8, ValueDim: 4}
	rng := rand.New(rand.NewSource(11))
	q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
	k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
	v := randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim)

	for h := 0; h < s.Heads; h++ {
		if s.KVHead(h) != h {
			t.Errorf("group size 1: head %d mapped to %d", h, s.KVHead(h))
		}
	}

	got := make([]float32, s.SeqLen*s.Heads*s.ValueDim)
	SelfAttention(got, q, k, v, s, 0.25, 4)

	// standard multi-head attention, one head at a time
	for h := 0; h < s.Heads; h++ {
		one := AttentionShape{SeqLen: s.SeqLen, KVLen: s.KVLen, Heads: 1, KVHeads: 1, HeadDim: s.HeadDim, ValueDim: s.ValueDim}
		qh := make([]float32, 0, s.SeqLen*s.HeadDim)
		kh := make([]float32, 0, s.KVLen*s.HeadDim)
		vh := make([]float32, 0, s.KVLen*s.ValueDim)
		for p := 0; p < s.SeqLen; p++ {
			qh = append(qh, q[(p*s.Heads+h)*s.HeadDim:(p*s.Heads+h+1)*s.HeadDim]...)
		}
		for p := 0; p < s.KVLen; p++ {
			kh = append(kh, k[(p*s.KVHeads+h)*s.HeadDim:(p*s.KVHeads+h+1)*s.HeadDim]...)
			vh = append(vh, v[(p*s.KVHeads+h)*s.ValueDim:(p*s.KVHeads+h+1)*s.ValueDim]...)
		}
		want := make([]float32, s.SeqLen*s.ValueDim)
		SelfAttention(want, qh, kh, vh, one, 0.25, 1)
		for p := 0; p < s.SeqLen; p++ {
			for d := 0; d < s.ValueDim; d++ {
				g := got[(p*s.Heads+h)*s.ValueDim+d]
				w := want[p*s.ValueDim+d]
				if g != w {
					t.Errorf("head %d pos %d dim %d: got %v, want %v", h, p, d, g, w)
				}
			}
		}
	}
}

func TestSelfAttention_NumericalStability(t *testing.T) {
	base := []float32{0.5, -1.25, 2, 0}
	shifted := make([]float32, len(base))
	for i, v := range base {
		shifted[i] = v + 1000
	}
	Softmax(base)
	Softmax(shifted)
	for i := range base {
		if math.Abs(float64(base[i]-shifted[i])) > 1e-6 {
			t.Errorf("index %d: shifted softmax %v != unshifted %v", i, shifted[i], base[i])
		}
	}

	// q.k of 100*100 would overflow exp without max subtraction
	s := AttentionShape{SeqLen: 3, KVLen: 3, Heads: 1, KVHeads: 1, HeadDim: 1, ValueDim: 1}
	out := make([]float32, 3)
	SelfAttention(out, []float32{100, 100, 100}, []float32{100, 100.01, 99.99}, []float32{1, 2, 3}, s, 1.0, 1)
	for i, o := range out {
		if math.IsNaN(float64(o)) || math.IsInf(float64(o), 0) {
			t.Errorf("position %d: non-finite output %v", i, o)
		}
	}
	if out[0] != 1 {
		t.Errorf("position 0 sees only value 1, got %v", out[0])
	}
}

func TestSelfAttention_MatchesReference(t *testing.T) {
	s := AttentionShape{SeqLen: 9, KVLen: 9, Heads: 8, KVHeads: 2, HeadDim: 16, ValueDim: 12}
	rng := rand.New(rand.NewSource(99))
	q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
	k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
	v := randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim)
	scale := 1 / math.Sqrt(float64(s.HeadDim))

	t.Run("f32", func(t *testing.T) {
		checkAgainstReference[float32](t, q, k, v, s, scale, 1e-5)
	})
	t.Run("f16", func(t *testing.T) {
		checkAgainstReference[float16.Float16](t, q, k, v, s, scale, 2e-3)
	})
	t.Run("bf16", func(t *testing.T) {
		checkAgainstReference[tensor.BFloat16](t, q, k, v, s, scale, 1e-2)
	})
}

func checkAgainstReference[E Element](t *testing.T, q, k, v []float32, s AttentionShape, scale float64, tol float64) {
	t.Helper()
	qe, ke, ve := toElems[E](q), toElems[E](k), toElems[E](v)
	// reference runs on the values actually stored, so only output rounding differs
	want := referenceAttention(toFloats(qe), toFloats(ke), toFloats(ve), s, scale)
	out := make([]E, len(want))
	SelfAttention(out, qe, ke, ve, s, float32(scale), 4)
	got := toFloats(out)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("element %d: got %v, want %v (tol %g)", i, got[i], want[i], tol)
		}
	}
}

func TestSelfAttention_WorkersAgree(t *testing.T) {
	s := AttentionShape{SeqLen: 13, KVLen: 13, Heads: 6, KVHeads: 2, HeadDim: 8, ValueDim: 8}
	rng := rand.New(rand.NewSource(5))
	q := toElems[tensor.BFloat16](randomVals(rng, s.SeqLen*s.Heads*s.HeadDim))
	k := toElems[tensor.BFloat16](randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim))
	v := toElems[tensor.BFloat16](randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim))

	serial := make([]tensor.BFloat16, s.SeqLen*s.Heads*s.ValueDim)
	SelfAttention(serial, q, k, v, s, 0.3, 1)
	for _, workers := range []int{2, 5, 64} {
		parallel := make([]tensor.BFloat16, len(serial))
		SelfAttention(parallel, q, k, v, s, 0.3, workers)
		for i := range serial {
			if serial[i] != parallel[i] {
				t.Fatalf("workers=%d: element %d differs (%v vs %v)", workers, i, parallel[i].Float32(), serial[i].Float32())
			}
		}
	}
}

func TestSelfAttention_LongerQueryThanKeys(t *testing.T) {
	// positions past the last key see every key
	s := AttentionShape{SeqLen: 3, KVLen: 2, Heads: 1, KVHeads: 1, HeadDim: 1, ValueDim: 1}
	out := make([]float32, 3)
	SelfAttention(out, []float32{1, 1, 1}, []float32{1, 1}, []float32{10, 20}, s, 1.0, 1)
	want := []float32{10, 15, 15}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("position %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func BenchmarkSelfAttention(b *testing.B) {
	s := AttentionShape{SeqLen: 128, KVLen: 128, Heads: 16, KVHeads: 4, HeadDim: 64, ValueDim: 64}
	rng := rand.New(rand.NewSource(1))
	q := randomVals(rng, s.SeqLen*s.Heads*s.HeadDim)
	k := randomVals(rng, s.KVLen*s.KVHeads*s.HeadDim)
	v := randomVals(rng, s.KVLen*s.KVHeads*s.ValueDim)
	out := make([]float32, s.SeqLen*s.Heads*s.ValueDim)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SelfAttention(out, q, k, v, s, 0.125, 8)
	}
}
