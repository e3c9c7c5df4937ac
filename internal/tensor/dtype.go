package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

type DType int

const (
	Invalid DType = iota
	F32
	F16
	BF16
	I64
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case I64:
		return "i64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size returns the element width in bytes, 0 for an invalid dtype.
func (d DType) Size() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	case I64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether d is one of the floating storage formats kernels dispatch on.
func (d DType) IsFloat() bool {
	return d == F32 || d == F16 || d == BF16
}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "fp32":
		return F32, nil
	case "f16", "float16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	case "i64", "int64":
		return I64, nil
	default:
		return Invalid, fmt.Errorf("unknown dtype %q (expected f32, f16, bf16 or i64)", s)
	}
}

// BFloat16 is a bfloat16 value: the upper half of an IEEE float32.
type BFloat16 uint16

// BFloat16FromFloat32 rounds f to the nearest bfloat16, ties to even.
func BFloat16FromFloat32(f float32) BFloat16 {
	bits := math.Float32bits(f)
	if bits&0x7FFFFFFF > 0x7F800000 {
		// keep NaN a NaN after truncation
		return BFloat16((bits >> 16) | 0x0040)
	}
	rnd := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BFloat16((bits + rnd) >> 16)
}

func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

func (b BFloat16) Bits() uint16 {
	return uint16(b)
}

func F16FromFloat32(f float32) float16.Float16 {
	return float16.Fromfloat32(f)
}
