package ops

import (
	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// SelfAttention runs causal grouped-query attention with the default context.
func SelfAttention(out, q, k, v *tensor.Tensor, scale float32) error {
	return defaultContext.SelfAttention(out, q, k, v, scale)
}

// SelfAttention computes out = softmax(scale * q·kᵀ + causal mask) · v.
//
//	q   [seqlen, n_head,    head_dim]
//	k   [kv_len, n_kv_head, head_dim]
//	v   [kv_len, n_kv_head, dv]
//	out [seqlen, n_head,    dv]
//
// n_head must be a multiple of n_kv_head. All four tensors share dtype and
// device and must be contiguous. q, k and v are not modified, and out must
// not share storage with any of them.
func (c *Context) SelfAttention(out, q, k, v *tensor.Tensor, scale float32) error {
	const op = "self_attention"
	var shape cpu.AttentionShape
	validate := func(chk *checker) {
		chk.notNil("out", out)
		chk.notNil("q", q)
		chk.notNil("k", k)
		chk.notNil("v", v)
		chk.sameDevice(out, q, k, v)
		chk.rank(q, 3)
		chk.rank(k, 3)
		chk.rank(v, 3)
		chk.rank(out, 3)
		chk.dimEq(k, 0, v, 0, "key/value length")
		chk.dimEq(k, 1, v, 1, "key/value heads")
		chk.dimEq(q, 2, k, 2, "query/key head dim")
		if chk.ok() && (k.Dim(1) == 0 || q.Dim(1)%k.Dim(1) != 0) {
			chk.failf("query heads %d are not a multiple of key/value heads %d", q.Dim(1), k.Dim(1))
		}
		chk.dimEq(out, 0, q, 0, "output/query length")
		chk.dimEq(out, 1, q, 1, "output/query heads")
		chk.dimEq(out, 2, v, 2, "output/value dim")
		chk.sameDType(out, q, k, v)
		chk.contiguous(out, q, k, v)
		chk.disjoint(out, q, k, v)
		if chk.ok() {
			shape = cpu.AttentionShape{
				SeqLen:   q.Dim(0),
				KVLen:    k.Dim(0),
				Heads:    q.Dim(1),
				KVHeads:  k.Dim(1),
				HeadDim:  q.Dim(2),
				ValueDim: v.Dim(2),
			}
		}
	}
	return c.run(op, out, validate, func(dt tensor.DType) error {
		err := byDType(op, dt,
			func() { selfAttention[f32](out, q, k, v, shape, scale, c.workers) },
			func() { selfAttention[f16](out, q, k, v, shape, scale, c.workers) },
			func() { selfAttention[bf16](out, q, k, v, shape, scale, c.workers) },
		)
		if err == nil {
			metrics.RecordAttentionSequenceLength(shape.SeqLen)
		}
		return err
	})
}

func selfAttention[E cpu.Element](out, q, k, v *tensor.Tensor, s cpu.AttentionShape, scale float32, workers int) {
	cpu.SelfAttention(data[E](out), data[E](q), data[E](k), data[E](v), s, scale, workers)
}
