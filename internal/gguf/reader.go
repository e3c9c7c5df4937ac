package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/quarrel-kernels/internal/logger"
)

// LoadFile reads and parses a GGUF file. Tensor data slices point into the
// file contents.
func LoadFile(path string) (*GGUFFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes the header, metadata and tensor table of a GGUF image and
// slices every tensor's data out of it.
func Parse(data []byte) (*GGUFFile, error) {
	file := &GGUFFile{KV: make(map[string]interface{})}
	r := &cursor{data: data}

	file.Header.Magic = r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}
	file.Header.Version = r.u32()
	if r.err == nil && (file.Header.Version < 2 || file.Header.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}
	file.Header.TensorCount = r.u64()
	file.Header.KVCount = r.u64()
	if r.err != nil {
		return nil, r.err
	}

	for i := uint64(0); i < file.Header.KVCount; i++ {
		k := r.str()
		v := r.value(GGUFMetadataValueType(r.u32()), 0)
		if r.err != nil {
			return nil, fmt.Errorf("metadata entry %d: %w", i, r.err)
		}
		file.KV[k] = v
	}

	for i := uint64(0); i < file.Header.TensorCount; i++ {
		name := r.str()
		ndim := r.u32()
		if r.err == nil && ndim > 4 {
			return nil, fmt.Errorf("tensor %s: %d dimensions", name, ndim)
		}
		dims := make([]uint64, ndim)
		for j := range dims {
			dims[j] = r.u64()
		}
		typ := GGMLType(r.u32())
		off := r.u64()
		if r.err != nil {
			return nil, fmt.Errorf("tensor info %d: %w", i, r.err)
		}
		file.Tensors = append(file.Tensors, &TensorInfo{Name: name, Dimensions: dims, Type: typ, Offset: off})
	}

	file.Alignment = DefaultAlignment
	if a := getKVInt(file.KV, "general.alignment"); a > 0 {
		file.Alignment = a
	}
	file.DataOffset = align(r.off, file.Alignment)

	for _, t := range file.Tensors {
		size := t.SizeBytes()
		if size == 0 && t.NumElements() > 0 {
			// quantized; kept in the table so callers can report it
			continue
		}
		start := file.DataOffset + t.Offset
		if start+size > uint64(len(data)) || start+size < start {
			return nil, fmt.Errorf("tensor %s: data out of bounds", t.Name)
		}
		t.Data = data[start : start+size]
	}

	logger.Log.Debug("gguf parsed", "version", file.Header.Version, "tensors", len(file.Tensors), "kv", len(file.KV))
	return file, nil
}

func align(off, a uint64) uint64 {
	if rem := off % a; rem != 0 {
		off += a - rem
	}
	return off
}

// cursor reads little-endian values and latches the first short read.
type cursor struct {
	data []byte
	off  uint64
	err  error
}

func (c *cursor) take(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > uint64(len(c.data)) || c.off+n < c.off {
		c.err = io.ErrUnexpectedEOF
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) str() string {
	n := c.u64()
	return string(c.take(n))
}

func (c *cursor) value(typ GGUFMetadataValueType, depth int) interface{} {
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return c.u8()
	case GGUFMetadataValueTypeInt8:
		return int8(c.u8())
	case GGUFMetadataValueTypeUint16:
		return c.u16()
	case GGUFMetadataValueTypeInt16:
		return int16(c.u16())
	case GGUFMetadataValueTypeUint32:
		return c.u32()
	case GGUFMetadataValueTypeInt32:
		return int32(c.u32())
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(c.u32())
	case GGUFMetadataValueTypeBool:
		return c.u8() != 0
	case GGUFMetadataValueTypeString:
		return c.str()
	case GGUFMetadataValueTypeArray:
		elem := GGUFMetadataValueType(c.u32())
		n := c.u64()
		if depth > 0 && c.err == nil {
			c.err = fmt.Errorf("nested metadata arrays are not supported")
		}
		var arr []interface{}
		for i := uint64(0); i < n && c.err == nil; i++ {
			arr = append(arr, c.value(elem, depth+1))
		}
		return arr
	case GGUFMetadataValueTypeUint64:
		return c.u64()
	case GGUFMetadataValueTypeInt64:
		return int64(c.u64())
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(c.u64())
	default:
		if c.err == nil {
			c.err = fmt.Errorf("unsupported metadata type: %d", typ)
		}
		return nil
	}
}
