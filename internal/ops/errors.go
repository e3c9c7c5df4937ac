package ops

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition marks a rank, shape, dtype, device or contiguity
	// mismatch caught before any kernel runs.
	ErrPrecondition = errors.New("precondition violated")
	// ErrUnsupportedDType is returned when operands are not f32, f16 or bf16.
	ErrUnsupportedDType = errors.New("unsupported dtype")
	// ErrUnsupportedDevice is returned for every device other than the host.
	ErrUnsupportedDevice = errors.New("unsupported device")
)

// ValidationError describes why an op refused to run. Kind is one of the
// sentinels above, so callers can match with errors.Is.
type ValidationError struct {
	Op   string
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// errorClass is the metrics label for err.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrUnsupportedDType):
		return "unsupported_dtype"
	case errors.Is(err, ErrUnsupportedDevice):
		return "unsupported_device"
	default:
		return "error"
	}
}
