package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalCalls  atomic.Int64
	totalErrors atomic.Int64
)

var (
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarrel_kernel_duration_seconds",
		Help:    "Histogram of CPU kernel execution times",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"op", "dtype"})

	KernelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_kernel_calls_total",
		Help: "Kernel invocations by outcome",
	}, []string{"op", "dtype", "result"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_validation_errors_total",
		Help: "Total number of rejected kernel calls",
	}, []string{"op", "error_type"})

	AttentionSequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quarrel_attention_sequence_length",
		Help:    "Distribution of query lengths passed to self-attention",
		Buckets: []float64{1, 8, 32, 128, 512, 1024, 2048, 4096, 8192},
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	FlightTensorsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_flight_tensors_stored",
		Help: "Tensors currently held by the flight tensor store",
	})

	FlightTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_flight_transfers_total",
		Help: "Flight tensor transfers by direction",
	}, []string{"direction"})
)

// RecordKernel observes one kernel call. result is "ok" or an error class.
func RecordKernel(op, dtype, result string, duration time.Duration) {
	KernelCalls.WithLabelValues(op, dtype, result).Inc()
	totalCalls.Add(1)
	if result != "ok" {
		totalErrors.Add(1)
		return
	}
	KernelDuration.WithLabelValues(op, dtype).Observe(duration.Seconds())
}

func RecordValidationError(op, errorType string) {
	ValidationErrors.WithLabelValues(op, errorType).Inc()
}

func RecordAttentionSequenceLength(seqLen int) {
	AttentionSequenceLength.Observe(float64(seqLen))
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordFlightStored(n int) {
	FlightTensorsStored.Set(float64(n))
}

func RecordFlightTransfer(direction string) {
	FlightTransfers.WithLabelValues(direction).Inc()
}

// Totals returns process-wide kernel call and failure counts since start.
func Totals() (calls, errors int64) {
	return totalCalls.Load(), totalErrors.Load()
}
