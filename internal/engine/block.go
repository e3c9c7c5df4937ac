// Package engine composes the kernels into one pre-norm transformer decoder
// block with an LM head, enough to run a greedy next-token step end to end.
package engine

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/23skdu/quarrel-kernels/internal/config"
	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/ops"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// Weight names, also used as tensor names when weights are saved.
const (
	TokenEmb   = "token_embd.weight"
	AttnNorm   = "attn_norm.weight"
	AttnQ      = "attn_q.weight"
	AttnK      = "attn_k.weight"
	AttnV      = "attn_v.weight"
	AttnO      = "attn_output.weight"
	FfnNorm    = "ffn_norm.weight"
	FfnGate    = "ffn_gate.weight"
	FfnUp      = "ffn_up.weight"
	FfnDown    = "ffn_down.weight"
	OutputNorm = "output_norm.weight"
	Output     = "output.weight"
)

var weightOrder = []string{TokenEmb, AttnNorm, AttnQ, AttnK, AttnV, AttnO, FfnNorm, FfnGate, FfnUp, FfnDown, OutputNorm, Output}

type Block struct {
	cfg     config.ModelConfig
	dtype   tensor.DType
	kernels *ops.Context
	weights map[string]*tensor.Tensor
}

// weightShapes lists every weight with its expected shape.
func weightShapes(c config.ModelConfig) map[string][]int {
	qDim := c.Heads * c.HeadDim
	kvDim := c.KVHeads * c.HeadDim
	return map[string][]int{
		TokenEmb:   {c.VocabSize, c.Dim},
		AttnNorm:   {c.Dim},
		AttnQ:      {qDim, c.Dim},
		AttnK:      {kvDim, c.Dim},
		AttnV:      {kvDim, c.Dim},
		AttnO:      {c.Dim, qDim},
		FfnNorm:    {c.Dim},
		FfnGate:    {c.HiddenDim, c.Dim},
		FfnUp:      {c.HiddenDim, c.Dim},
		FfnDown:    {c.Dim, c.HiddenDim},
		OutputNorm: {c.Dim},
		Output:     {c.VocabSize, c.Dim},
	}
}

// NewBlock builds a block with deterministic pseudo-random weights drawn from
// cfg.Seed. Projection weights are uniform in ±1/sqrt(fan_in); norm weights
// are 1.
func NewBlock(cfg config.ModelConfig, dtype tensor.DType, kernels *ops.Context) (*Block, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	shapes := weightShapes(cfg)
	weights := make(map[string]*tensor.Tensor)
	// fixed order so the same seed always yields the same weights
	for _, name := range weightOrder {
		shape := shapes[name]
		n := 1
		for _, d := range shape {
			n *= d
		}
		vals := make([]float32, n)
		if len(shape) == 1 {
			for i := range vals {
				vals[i] = 1
			}
		} else {
			bound := float32(1 / math.Sqrt(float64(shape[1])))
			for i := range vals {
				vals[i] = (rng.Float32()*2 - 1) * bound
			}
		}
		w, err := tensor.FromFloat32(name, dtype, vals, shape...)
		if err != nil {
			return nil, err
		}
		weights[name] = w
	}
	return &Block{cfg: cfg, dtype: dtype, kernels: kernels, weights: weights}, nil
}

// LoadBlock builds a block from named weight tensors, for example ones read
// with tensorio. Every weight must be present with the expected shape, and
// all must share one dtype.
func LoadBlock(cfg config.ModelConfig, ts []*tensor.Tensor, kernels *ops.Context) (*Block, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	byName := make(map[string]*tensor.Tensor, len(ts))
	for _, t := range ts {
		byName[t.Name()] = t
	}
	weights := make(map[string]*tensor.Tensor)
	dtype := tensor.Invalid
	for name, shape := range weightShapes(cfg) {
		w, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("missing weight %s", name)
		}
		if !sameShape(w.Shape(), shape) {
			return nil, fmt.Errorf("weight %s: shape %v, want %v", name, w.Shape(), shape)
		}
		if dtype == tensor.Invalid {
			dtype = w.DType()
		}
		if w.DType() != dtype {
			return nil, fmt.Errorf("weight %s is %s, others are %s", name, w.DType(), dtype)
		}
		weights[name] = w
	}
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("weights must be floating point, got %s", dtype)
	}
	return &Block{cfg: cfg, dtype: dtype, kernels: kernels, weights: weights}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (b *Block) DType() tensor.DType { return b.dtype }

// Weights returns the block's weight tensors in a stable order.
func (b *Block) Weights() []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(weightOrder))
	for i, n := range weightOrder {
		out[i] = b.weights[n]
	}
	return out
}

// Result is the greedy choice for the position after the last input token.
type Result struct {
	Token  int64
	Logit  float32
	Logits []float32
	Stats  LogitStats
}

// Forward runs the whole sequence through the block and picks the arg-max
// token from the last row of logits. There is no key/value cache: every call
// recomputes attention over all tokens.
func (b *Block) Forward(tokens []int64) (Result, error) {
	start := time.Now()
	res, err := b.forward(tokens)
	if err != nil {
		return Result{}, err
	}
	logger.Log.Debug("forward done", "tokens", len(tokens), "next", res.Token, "elapsed", time.Since(start).String())
	return res, nil
}

func (b *Block) forward(tokens []int64) (Result, error) {
	c := b.cfg
	seq := len(tokens)
	if seq == 0 {
		return Result{}, fmt.Errorf("forward: empty token sequence")
	}
	k := b.kernels
	w := b.weights
	qDim, kvDim := c.Heads*c.HeadDim, c.KVHeads*c.HeadDim

	posVals := make([]int64, seq)
	for i := range posVals {
		posVals[i] = int64(i)
	}

	a := newArena(b.dtype)
	ids := a.index("tokens", tokens...)
	pos := a.index("positions", posVals...)
	lastIdx := a.index("last", int64(seq-1))
	x := a.alloc("x", seq, c.Dim)
	h := a.alloc("h", seq, c.Dim)
	q := a.alloc("q", seq, qDim)
	kk := a.alloc("k", seq, kvDim)
	v := a.alloc("v", seq, kvDim)
	attn := a.alloc("attn", seq, c.Heads, c.HeadDim)
	proj := a.alloc("proj", seq, c.Dim)
	gate := a.alloc("gate", seq, c.HiddenDim)
	up := a.alloc("up", seq, c.HiddenDim)
	act := a.alloc("act", seq, c.HiddenDim)
	last := a.alloc("last", 1, c.Dim)
	logits := a.alloc("logits", 1, c.VocabSize)
	maxVal := a.alloc("max_val", 1)
	maxIdx := a.index("max_idx", 0)

	q3 := a.view(q, seq, c.Heads, c.HeadDim)
	k3 := a.view(kk, seq, c.KVHeads, c.HeadDim)
	v3 := a.view(v, seq, c.KVHeads, c.HeadDim)
	attn2 := a.view(attn, seq, qDim)
	flat := a.view(logits, c.VocabSize)
	if a.err != nil {
		return Result{}, fmt.Errorf("forward: %w", a.err)
	}
	scale := float32(1 / math.Sqrt(float64(c.HeadDim)))

	steps := []struct {
		name string
		run  func() error
	}{
		{"embedding", func() error { return k.Embedding(x, ids, w[TokenEmb]) }},
		{"attn_norm", func() error { return k.RMSNorm(h, x, w[AttnNorm], c.Eps) }},
		{"q", func() error { return k.Linear(q, h, w[AttnQ], nil) }},
		{"k", func() error { return k.Linear(kk, h, w[AttnK], nil) }},
		{"v", func() error { return k.Linear(v, h, w[AttnV], nil) }},
		{"rope_q", func() error { return k.RoPE(q3, q3, pos, c.RopeTheta) }},
		{"rope_k", func() error { return k.RoPE(k3, k3, pos, c.RopeTheta) }},
		{"attention", func() error { return k.SelfAttention(attn, q3, k3, v3, scale) }},
		{"attn_out", func() error { return k.Linear(proj, attn2, w[AttnO], nil) }},
		{"attn_residual", func() error { return k.Add(x, x, proj) }},
		{"ffn_norm", func() error { return k.RMSNorm(h, x, w[FfnNorm], c.Eps) }},
		{"ffn_gate", func() error { return k.Linear(gate, h, w[FfnGate], nil) }},
		{"ffn_up", func() error { return k.Linear(up, h, w[FfnUp], nil) }},
		{"swiglu", func() error { return k.SwiGLU(act, gate, up) }},
		{"ffn_down", func() error { return k.Linear(proj, act, w[FfnDown], nil) }},
		{"ffn_residual", func() error { return k.Add(x, x, proj) }},
		{"last_row", func() error { return k.Embedding(last, lastIdx, x) }},
		{"output_norm", func() error { return k.RMSNorm(last, last, w[OutputNorm], c.Eps) }},
		{"lm_head", func() error { return k.Linear(logits, last, w[Output], nil) }},
		{"argmax", func() error { return k.ArgMax(maxIdx, maxVal, flat) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return Result{}, fmt.Errorf("forward %s: %w", s.name, err)
		}
	}

	out := logits.Float32s()
	stats := AuditLogits(out)
	if stats.NaNs+stats.Infs > 0 {
		metrics.RecordNumericalInstability("logits", stats.NaNs, stats.Infs)
		logger.Log.Warn("non-finite logits", "nan", stats.NaNs, "inf", stats.Infs)
	}
	return Result{
		Token:  maxIdx.Int64s()[0],
		Logit:  maxVal.Float32s()[0],
		Logits: out,
		Stats:  stats,
	}, nil
}

// Generate appends n greedily chosen tokens to prompt.
func (b *Block) Generate(prompt []int64, n int) ([]int64, error) {
	seq := append([]int64(nil), prompt...)
	for i := 0; i < n; i++ {
		res, err := b.Forward(seq)
		if err != nil {
			return seq, err
		}
		seq = append(seq, res.Token)
	}
	return seq, nil
}
