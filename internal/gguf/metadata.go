package gguf

import (
	"fmt"

	"github.com/23skdu/quarrel-kernels/internal/config"
)

const tokenEmbd = "token_embd.weight"

// ModelConfig overlays the architecture hyperparameters found in the file's
// metadata on base. Keys that are absent leave base's value.
func (f *GGUFFile) ModelConfig(base config.ModelConfig) (config.ModelConfig, error) {
	arch, _ := f.KV["general.architecture"].(string)
	if arch == "" {
		return base, fmt.Errorf("gguf: missing general.architecture")
	}
	m := base
	if v := getKVInt(f.KV, arch+".embedding_length"); v > 0 {
		m.Dim = int(v)
	}
	if v := getKVInt(f.KV, arch+".feed_forward_length", arch+".intermediate_size"); v > 0 {
		m.HiddenDim = int(v)
	}
	if v := getKVInt(f.KV, arch+".attention.head_count"); v > 0 {
		m.Heads = int(v)
		m.KVHeads = int(v)
	}
	if v := getKVInt(f.KV, arch+".attention.head_count_kv"); v > 0 {
		m.KVHeads = int(v)
	}
	if v := getKVInt(f.KV, arch+".attention.key_length"); v > 0 {
		m.HeadDim = int(v)
	} else if m.Heads > 0 {
		m.HeadDim = m.Dim / m.Heads
	}
	if v, ok := getKVFloat(f.KV, arch+".attention.layer_norm_rms_epsilon"); ok {
		m.Eps = v
	}
	if v, ok := getKVFloat(f.KV, arch+".rope.freq_base"); ok {
		m.RopeTheta = v
	}
	if v := getKVInt(f.KV, arch+".vocab_size"); v > 0 {
		m.VocabSize = int(v)
	} else if toks, ok := f.KV["tokenizer.ggml.tokens"].([]interface{}); ok && len(toks) > 0 {
		m.VocabSize = len(toks)
	} else if emb := f.tensorInfo(tokenEmbd); emb != nil && len(emb.Dimensions) == 2 {
		m.VocabSize = int(emb.Dimensions[1])
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("gguf %s hyperparameters: %w", arch, err)
	}
	return m, nil
}

func getKVInt(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if val, ok := kv[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case uint32:
				return uint64(v)
			case int32:
				return uint64(v)
			case uint16:
				return uint64(v)
			case uint8:
				return uint64(v)
			}
		}
	}
	return 0
}

func getKVFloat(kv map[string]interface{}, key string) (float32, bool) {
	switch v := kv[key].(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	}
	return 0, false
}
