package dsp

import (
	"errors"
	"math"
	"testing"
)

func directCorrelate(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for k := range out {
		lag := k - (len(b) - 1)
		for n := range b {
			if i := n + lag; i >= 0 && i < len(a) {
				out[k] += a[i] * b[n]
			}
		}
	}
	return out
}

func TestCrossCorrelateMatchesDirectSum(t *testing.T) {
	a := []float64{1, -2, 3, 0.5, 4}
	b := []float64{0.25, 2, -1}
	got, err := CrossCorrelate(a, b)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	want := directCorrelate(a, b)
	if len(got) != len(want) {
		t.Fatalf("expected %d lags got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestBestLagSign(t *testing.T) {
	a := make([]float64, 64)
	b := make([]float64, 64)
	a[13] = 1
	b[10] = 1
	lag, err := BestLag(a, b)
	if err != nil {
		t.Fatalf("best lag: %v", err)
	}
	if lag != 3 {
		t.Fatalf("expected lag 3 got %d", lag)
	}
	lag, _ = BestLag(b, a)
	if lag != -3 {
		t.Fatalf("expected lag -3 got %d", lag)
	}
}

func TestCorrelatorKeepsPlan(t *testing.T) {
	c := NewCorrelator()
	if c.Size() != 0 {
		t.Fatalf("expected empty cache")
	}
	x := make([]float64, 100)
	x[0] = 1
	if _, err := c.Correlate(x, x); err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if c.Size() != 256 {
		t.Fatalf("expected size 256 got %d", c.Size())
	}
	// A shorter signal in the same power of two keeps the plan and must not
	// see leftovers from the previous call.
	y := []float64{0, 0, 1}
	corr, err := c.Correlate(y, y)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if c.Size() != 8 || len(corr) != 5 || math.Abs(corr[2]-1) > 1e-12 {
		t.Fatalf("unexpected result size %d corr %v", c.Size(), corr)
	}
}

func TestPeakToPeak(t *testing.T) {
	pp, err := PeakToPeak([]float64{-1, 0.5, 2})
	if err != nil || pp != 3 {
		t.Fatalf("expected 3 got %v (%v)", pp, err)
	}
	// both extremes on one side still add magnitudes
	pp, _ = PeakToPeak([]float64{1, 2})
	if pp != 3 {
		t.Fatalf("expected 3 got %v", pp)
	}
	if _, err := PeakToPeak(nil); !errors.Is(err, ErrEmptySignal) {
		t.Fatalf("expected ErrEmptySignal got %v", err)
	}
	if _, err := CrossCorrelate(nil, []float64{1}); !errors.Is(err, ErrEmptySignal) {
		t.Fatalf("expected ErrEmptySignal got %v", err)
	}
}
