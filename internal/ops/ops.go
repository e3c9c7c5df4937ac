// Package ops validates kernel operands and dispatches them by device and
// element type to the host kernels in ops/cpu.
//
// Every op checks all preconditions before touching the output, so a call
// either fills the output tensor completely or returns an error and leaves
// it as it was.
package ops

import (
	"errors"
	"runtime"
	"time"

	"github.com/x448/float16"

	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/ops/cpu"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

type Options struct {
	// Threads caps the goroutines one kernel call may use. 0 means one per CPU.
	Threads int
}

// Context carries per-caller kernel settings. It holds no buffers and is
// safe for concurrent use.
type Context struct {
	workers int
}

func NewContext(opts Options) *Context {
	w := opts.Threads
	if w <= 0 {
		w = runtime.NumCPU()
	}
	return &Context{workers: w}
}

// Workers reports the goroutine cap used by c.
func (c *Context) Workers() int { return c.workers }

var defaultContext = NewContext(Options{})

// run validates, resolves the device, dispatches and records the outcome.
func (c *Context) run(op string, out *tensor.Tensor, validate func(*checker), kernel func(tensor.DType) error) error {
	start := time.Now()
	chk := &checker{op: op}
	validate(chk)
	err := chk.err

	dt := tensor.Invalid
	if out != nil {
		dt = out.DType()
	}
	if err == nil {
		err = resolveDevice(op, out.Device())
	}
	if err == nil {
		err = kernel(dt)
	}

	result := "ok"
	if err != nil {
		result = errorClass(err)
		metrics.RecordValidationError(op, result)
		log := logger.Log.With("op", op, "dtype", dt.String())
		if errors.Is(err, ErrPrecondition) {
			log.Debug("kernel call rejected", "error", err.Error())
		} else {
			log.Warn("kernel not dispatched", "error", err.Error())
		}
	}
	metrics.RecordKernel(op, dt.String(), result, time.Since(start))
	return err
}

func resolveDevice(op string, d tensor.Device) error {
	switch d.Type {
	case tensor.CPU:
		return nil
	case tensor.Nvidia:
		return &ValidationError{Op: op, Kind: ErrUnsupportedDevice, Msg: d.String() + " kernels are not implemented"}
	default:
		return &ValidationError{Op: op, Kind: ErrUnsupportedDevice, Msg: d.String()}
	}
}

// byDType runs the instantiation matching dt. Nothing is written when dt is
// outside the supported set.
func byDType(op string, dt tensor.DType, f32, f16, bf16 func()) error {
	switch dt {
	case tensor.F32:
		f32()
	case tensor.F16:
		f16()
	case tensor.BF16:
		bf16()
	default:
		return &ValidationError{Op: op, Kind: ErrUnsupportedDType, Msg: dt.String()}
	}
	return nil
}

// data returns the backing slice of a validated contiguous tensor.
func data[E cpu.Element](t *tensor.Tensor) []E {
	if t == nil {
		return nil
	}
	return t.Data().([]E)
}

type (
	f32  = float32
	f16  = float16.Float16
	bf16 = tensor.BFloat16
)
