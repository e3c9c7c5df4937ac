package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/quarrel-kernels/internal/config"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// Meta is the metadata Write stores alongside the tensors.
type Meta struct {
	Arch   string
	Model  config.ModelConfig
	Tokens []string // optional vocabulary, stored as tokenizer.ggml.tokens
}

// Write encodes ts as a single-layer GGUF v3 file. Global tensors keep their
// names; every other tensor is stored as blk.0.<name>.
func Write(w io.Writer, meta Meta, ts ...*tensor.Tensor) error {
	arch, m := meta.Arch, meta.Model
	if arch == "" {
		return fmt.Errorf("gguf: missing architecture")
	}
	kv := []struct {
		key string
		val interface{}
	}{
		{"general.architecture", arch},
		{"general.alignment", uint32(DefaultAlignment)},
		{arch + ".block_count", uint32(1)},
		{arch + ".embedding_length", uint32(m.Dim)},
		{arch + ".feed_forward_length", uint32(m.HiddenDim)},
		{arch + ".attention.head_count", uint32(m.Heads)},
		{arch + ".attention.head_count_kv", uint32(m.KVHeads)},
		{arch + ".attention.key_length", uint32(m.HeadDim)},
		{arch + ".attention.layer_norm_rms_epsilon", m.Eps},
		{arch + ".rope.freq_base", m.RopeTheta},
		{arch + ".vocab_size", uint32(m.VocabSize)},
	}
	if len(meta.Tokens) > 0 {
		kv = append(kv, struct {
			key string
			val interface{}
		}{"tokenizer.ggml.tokens", meta.Tokens})
	}

	infos := make([]*TensorInfo, len(ts))
	var off uint64
	for i, t := range ts {
		typ, ok := ggmlType(t.DType())
		if !ok {
			return fmt.Errorf("gguf: cannot store %s tensor %s", t.DType(), t.Name())
		}
		name := t.Name()
		if !globalTensors[name] {
			name = "blk.0." + name
		}
		shape := t.Shape()
		dims := make([]uint64, len(shape))
		for j, d := range shape {
			dims[len(dims)-1-j] = uint64(d)
		}
		infos[i] = &TensorInfo{Name: name, Dimensions: dims, Type: typ, Offset: off, Data: encode(t)}
		off = align(off+uint64(len(infos[i].Data)), DefaultAlignment)
	}

	e := &encoder{w: bufio.NewWriter(w)}
	e.u32(GGUFMagic)
	e.u32(GGUFVersion)
	e.u64(uint64(len(infos)))
	e.u64(uint64(len(kv)))
	for _, entry := range kv {
		e.str(entry.key)
		e.value(entry.val)
	}
	for _, ti := range infos {
		e.str(ti.Name)
		e.u32(uint32(len(ti.Dimensions)))
		for _, d := range ti.Dimensions {
			e.u64(d)
		}
		e.u32(uint32(ti.Type))
		e.u64(ti.Offset)
	}
	e.pad()
	for _, ti := range infos {
		e.write(ti.Data)
		e.pad()
	}
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// WriteFile writes ts to path with Write.
func WriteFile(path string, meta Meta, ts ...*tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, meta, ts...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type encoder struct {
	w   *bufio.Writer
	n   uint64
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	var n int
	n, e.err = e.w.Write(b)
	e.n += uint64(n)
}

func (e *encoder) u32(v uint32) {
	e.write(binary.LittleEndian.AppendUint32(nil, v))
}

func (e *encoder) u64(v uint64) {
	e.write(binary.LittleEndian.AppendUint64(nil, v))
}

func (e *encoder) str(s string) {
	e.u64(uint64(len(s)))
	e.write([]byte(s))
}

func (e *encoder) value(v interface{}) {
	switch v := v.(type) {
	case uint32:
		e.u32(uint32(GGUFMetadataValueTypeUint32))
		e.u32(v)
	case float32:
		e.u32(uint32(GGUFMetadataValueTypeFloat32))
		e.u32(math.Float32bits(v))
	case string:
		e.u32(uint32(GGUFMetadataValueTypeString))
		e.str(v)
	case []string:
		e.u32(uint32(GGUFMetadataValueTypeArray))
		e.u32(uint32(GGUFMetadataValueTypeString))
		e.u64(uint64(len(v)))
		for _, s := range v {
			e.str(s)
		}
	default:
		if e.err == nil {
			e.err = fmt.Errorf("gguf: cannot encode metadata value %T", v)
		}
	}
}

func (e *encoder) pad() {
	if n := align(e.n, DefaultAlignment) - e.n; n > 0 {
		e.write(make([]byte, n))
	}
}
