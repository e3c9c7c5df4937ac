// Package tokenizer maps text to token ids with the vocabulary stored in a
// GGUF file. It does greedy longest-match lookup, not full BPE merging, which
// is enough to drive the forward command from a text prompt.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/23skdu/quarrel-kernels/internal/gguf"
)

// Space markers used by SentencePiece and byte-level BPE vocabularies.
const (
	spmSpace = "▁"
	bpeSpace = "Ġ"
)

type Tokenizer struct {
	Tokens []string
	Vocab  map[string]int64
	maxLen int
	space  string
}

// FromGGUF reads tokenizer.ggml.tokens from f.
func FromGGUF(f *gguf.GGUFFile) (*Tokenizer, error) {
	val, ok := f.KV["tokenizer.ggml.tokens"]
	if !ok {
		return nil, fmt.Errorf("tokenizer.ggml.tokens not found in GGUF")
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid type %T for tokenizer.ggml.tokens", val)
	}
	tokens := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("token %d is not a string", i)
		}
		tokens[i] = s
	}
	return New(tokens), nil
}

// New builds a tokenizer over tokens; a token's id is its index. Duplicate
// pieces resolve to the lowest id.
func New(tokens []string) *Tokenizer {
	t := &Tokenizer{
		Tokens: tokens,
		Vocab:  make(map[string]int64, len(tokens)),
		space:  " ",
	}
	spm, bpe := 0, 0
	for i, s := range tokens {
		if _, dup := t.Vocab[s]; !dup {
			t.Vocab[s] = int64(i)
		}
		t.maxLen = max(t.maxLen, len(s))
		if strings.HasPrefix(s, spmSpace) {
			spm++
		}
		if strings.HasPrefix(s, bpeSpace) {
			bpe++
		}
	}
	switch {
	case spm > 0 && spm >= bpe:
		t.space = spmSpace
	case bpe > 0:
		t.space = bpeSpace
	}
	return t
}

// Encode splits text into the longest vocabulary pieces, left to right.
// Spaces are rewritten to the vocabulary's space marker first.
func (t *Tokenizer) Encode(text string) ([]int64, error) {
	s := strings.ReplaceAll(text, " ", t.space)
	var ids []int64
	for len(s) > 0 {
		n := min(t.maxLen, len(s))
		for ; n > 0; n-- {
			if !utf8.ValidString(s[:n]) {
				continue
			}
			if id, ok := t.Vocab[s[:n]]; ok {
				ids = append(ids, id)
				break
			}
		}
		if n == 0 {
			r, _ := utf8.DecodeRuneInString(s)
			return nil, fmt.Errorf("no token for %q", r)
		}
		s = s[n:]
	}
	return ids, nil
}

// Decode concatenates the pieces for ids and turns space markers back into
// spaces. Unknown ids are skipped.
func (t *Tokenizer) Decode(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= int64(len(t.Tokens)) {
			continue
		}
		sb.WriteString(t.Tokens[id])
	}
	out := sb.String()
	if t.space != " " {
		out = strings.ReplaceAll(out, t.space, " ")
	}
	return out
}
