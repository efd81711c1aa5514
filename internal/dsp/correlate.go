package dsp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrEmptySignal is returned when an operation needs at least one sample.
var ErrEmptySignal = errors.New("dsp: empty signal")

// CrossCorrelate returns the full linear cross-correlation of a against b,
// c[k] = sum_n a[n+lag] * b[n] with lag = k - (len(b)-1). The result has
// len(a)+len(b)-1 entries, the first one at the most negative lag.
func CrossCorrelate(a, b []float64) ([]float64, error) {
	return NewCorrelator().Correlate(a, b)
}

// BestLag returns the lag at which the cross-correlation of a against b
// peaks.
func BestLag(a, b []float64) (int, error) {
	return NewCorrelator().BestLag(a, b)
}

// PeakToPeak returns |min(x)| + |max(x)|.
func PeakToPeak(x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, ErrEmptySignal
	}
	return math.Abs(floats.Min(x)) + math.Abs(floats.Max(x)), nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
