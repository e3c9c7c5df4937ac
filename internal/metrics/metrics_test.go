package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordKernel(t *testing.T) {
	callsBefore, errsBefore := Totals()
	okBefore := testutil.ToFloat64(KernelCalls.WithLabelValues("linear", "f32", "ok"))

	RecordKernel("linear", "f32", "ok", 5*time.Millisecond)
	RecordKernel("linear", "f32", "ok", 7*time.Millisecond)
	RecordKernel("linear", "f32", "precondition", 0)

	if got := testutil.ToFloat64(KernelCalls.WithLabelValues("linear", "f32", "ok")); got != okBefore+2 {
		t.Errorf("expected %v ok calls, got %v", okBefore+2, got)
	}
	calls, errs := Totals()
	if calls != callsBefore+3 {
		t.Errorf("expected %d calls, got %d", callsBefore+3, calls)
	}
	if errs != errsBefore+1 {
		t.Errorf("expected %d errors, got %d", errsBefore+1, errs)
	}
}

func TestRecordValidationError(t *testing.T) {
	before := testutil.ToFloat64(ValidationErrors.WithLabelValues("rope", "precondition"))
	RecordValidationError("rope", "precondition")
	if got := testutil.ToFloat64(ValidationErrors.WithLabelValues("rope", "precondition")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestRecordNumericalInstability(t *testing.T) {
	nanBefore := testutil.ToFloat64(NumericalInstability.WithLabelValues("logits", "nan"))
	RecordNumericalInstability("logits", 5, 0)
	RecordNumericalInstability("logits", 0, 3)
	if got := testutil.ToFloat64(NumericalInstability.WithLabelValues("logits", "nan")); got != nanBefore+5 {
		t.Errorf("expected %v NaNs, got %v", nanBefore+5, got)
	}
	if got := testutil.ToFloat64(NumericalInstability.WithLabelValues("logits", "inf")); got < 3 {
		t.Errorf("expected at least 3 Infs, got %v", got)
	}
}

func TestRecordFlight(t *testing.T) {
	RecordFlightStored(4)
	if got := testutil.ToFloat64(FlightTensorsStored); got != 4 {
		t.Errorf("expected 4 stored, got %v", got)
	}
	before := testutil.ToFloat64(FlightTransfers.WithLabelValues("put"))
	RecordFlightTransfer("put")
	if got := testutil.ToFloat64(FlightTransfers.WithLabelValues("put")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestRecordAttentionSequenceLength(t *testing.T) {
	for _, n := range []int{1, 64, 4096} {
		RecordAttentionSequenceLength(n)
	}
	if n := testutil.CollectAndCount(AttentionSequenceLength); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}
