package engine

import "math"

// LogitStats summarizes one row of logits.
type LogitStats struct {
	Max  float32 `json:"max"`
	Min  float32 `json:"min"`
	Mean float32 `json:"mean"`
	RMS  float32 `json:"rms"`
	NaNs int     `json:"nans"`
	Infs int     `json:"infs"`
	// Flat is set when the finite logits have near-zero variance, which
	// makes the arg-max choice meaningless.
	Flat bool `json:"flat"`
}

// AuditLogits inspects a logit row for non-finite values and flatness.
// Mean and RMS are taken over the finite entries only.
func AuditLogits(logits []float32) LogitStats {
	var s LogitStats
	if len(logits) == 0 {
		return s
	}

	var sum, sumSq float64
	minVal, maxVal := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	finite := 0
	for _, v := range logits {
		switch {
		case math.IsNaN(float64(v)):
			s.NaNs++
			continue
		case math.IsInf(float64(v), 0):
			s.Infs++
			continue
		}
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
		sumSq += float64(v) * float64(v)
		finite++
	}
	if finite == 0 {
		return s
	}

	s.Max, s.Min = maxVal, minVal
	mean := sum / float64(finite)
	s.Mean = float32(mean)
	s.RMS = float32(math.Sqrt(sumSq / float64(finite)))
	variance := sumSq/float64(finite) - mean*mean
	s.Flat = finite > 1 && variance < 1e-6
	return s
}
