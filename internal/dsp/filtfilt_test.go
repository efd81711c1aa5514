package dsp

import (
	"errors"
	"math"
	"testing"
)

func sine(n int, cycles, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2*math.Pi*cycles*float64(i) + phase)
	}
	return out
}

func TestFiltFiltConstantInput(t *testing.T) {
	sections, err := EllipticLowpass(6, 0.02, 50, 0.2)
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	dc := 1.0
	for _, s := range sections {
		dc *= s.DCGain()
	}
	x := make([]float64, 200)
	for i := range x {
		x[i] = 3
	}
	y, err := FiltFilt(sections, x)
	if err != nil {
		t.Fatalf("filtfilt: %v", err)
	}
	if len(y) != len(x) {
		t.Fatalf("expected %d samples got %d", len(x), len(y))
	}
	for i, v := range y {
		if math.Abs(v-3*dc*dc) > 1e-9 {
			t.Fatalf("sample %d expected %v got %v", i, 3*dc*dc, v)
		}
	}
}

func TestFiltFiltZeroPhase(t *testing.T) {
	sections, err := EllipticLowpass(6, 0.02, 50, 0.2)
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	in := sine(2000, 0.02, 0.3)
	out, err := FiltFilt(sections, in)
	if err != nil {
		t.Fatalf("filtfilt: %v", err)
	}
	for i := 200; i < len(in)-200; i++ {
		if math.Abs(in[i]-out[i]) > 5e-3 {
			t.Fatalf("passband sample %d expected %v got %v", i, in[i], out[i])
		}
	}

	stop, err := FiltFilt(sections, sine(2000, 0.3, 0))
	if err != nil {
		t.Fatalf("filtfilt: %v", err)
	}
	for i := 200; i < len(stop)-200; i++ {
		if math.Abs(stop[i]) > 1e-4 {
			t.Fatalf("stopband sample %d not attenuated: %v", i, stop[i])
		}
	}
}

func TestFiltFiltShortSignal(t *testing.T) {
	sections, _ := EllipticLowpass(6, 0.02, 50, 0.2)
	if PadLength(sections) != 21 {
		t.Fatalf("expected pad 21 got %d", PadLength(sections))
	}
	if _, err := FiltFilt(sections, make([]float64, 21)); !errors.Is(err, ErrSignalTooShort) {
		t.Fatalf("expected ErrSignalTooShort got %v", err)
	}
	if _, err := FiltFilt(sections, make([]float64, 22)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
