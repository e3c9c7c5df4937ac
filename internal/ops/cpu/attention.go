package cpu

// AttentionShape carries the dimensions of one self-attention call:
//
//	q   [SeqLen, Heads,   HeadDim]
//	k   [KVLen,  KVHeads, HeadDim]
//	v   [KVLen,  KVHeads, ValueDim]
//	out [SeqLen, Heads,   ValueDim]
//
// Heads must be a multiple of KVHeads. Query head h reads key/value head
// h / (Heads / KVHeads).
type AttentionShape struct {
	SeqLen   int
	KVLen    int
	Heads    int
	KVHeads  int
	HeadDim  int
	ValueDim int
}

// GroupSize is the number of query heads sharing one key/value head.
func (s AttentionShape) GroupSize() int {
	return s.Heads / s.KVHeads
}

// KVHead maps query head h to the key/value head it attends with.
func (s AttentionShape) KVHead(h int) int {
	return h / s.GroupSize()
}

// SelfAttention computes causal grouped-query attention into out.
//
// For every query position pos and head h the raw scores are
// scale * dot(q[pos,h], k[j,kvHead]) for j <= pos; keys after pos are masked
// to -Inf. The scores go through a max-subtracted softmax and weight the rows
// of v. Dot products, softmax and the weighted sum run in float32 and the
// result is narrowed to E once, on write. Every element of out is written;
// q, k and v are only read.
//
// Query and key positions share an origin: query pos sees key positions
// 0..pos. There is no cache offset.
//
// (pos, h) rows are independent and are split across workers goroutines,
// each writing only its own rows of out.
func SelfAttention[E Element](out, q, k, v []E, s AttentionShape, scale float32, workers int) {
	rows := s.SeqLen * s.Heads
	parallelRange(rows, workers, func(start, end int) {
		scores := make([]float32, s.KVLen)
		acc := make([]float32, s.ValueDim)
		for r := start; r < end; r++ {
			pos, h := r/s.Heads, r%s.Heads
			attentionRow(out, q, k, v, s, scale, pos, h, scores, acc)
		}
	})
}

func attentionRow[E Element](out, q, k, v []E, s AttentionShape, scale float32, pos, h int, scores, acc []float32) {
	kvHead := s.KVHead(h)
	scoreRow(scores, q, k, s, scale, pos, h)
	Softmax(scores)

	for d := range acc {
		acc[d] = 0
	}
	visible := min(pos+1, s.KVLen)
	for j := 0; j < visible; j++ {
		w := scores[j]
		vRow := v[(j*s.KVHeads+kvHead)*s.ValueDim:][:s.ValueDim]
		for d, x := range vRow {
			acc[d] += w * load(x)
		}
	}

	oRow := out[(pos*s.Heads+h)*s.ValueDim:][:s.ValueDim]
	for d := range oRow {
		oRow[d] = store[E](acc[d])
	}
}

// scoreRow fills scores with the scaled, causally masked logits of query
// (pos, h) against every key position.
func scoreRow[E Element](scores []float32, q, k []E, s AttentionShape, scale float32, pos, h int) {
	kvHead := s.KVHead(h)
	qRow := q[(pos*s.Heads+h)*s.HeadDim:][:s.HeadDim]
	for j := range scores {
		if j > pos {
			scores[j] = negInf
			continue
		}
		kRow := k[(j*s.KVHeads+kvHead)*s.HeadDim:][:s.HeadDim]
		var dot float32
		for d, x := range qRow {
			dot += load(x) * load(kRow[d])
		}
		scores[j] = dot * scale
	}
}
